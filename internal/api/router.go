package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/lzjever/ledgerseal/internal/api/middleware"
	"github.com/lzjever/ledgerseal/internal/backend"
	"github.com/lzjever/ledgerseal/internal/evidence"
	"github.com/lzjever/ledgerseal/internal/ledger"
	"github.com/lzjever/ledgerseal/internal/proof"
	"github.com/lzjever/ledgerseal/internal/seal"
)

const defaultMaxBodyBytes = 4 << 20

type API struct {
	store        backend.Store
	ledger       *ledger.Ledger
	builder      *evidence.Builder
	sections     *proof.Generator
	rows         *ledger.AuditedWriter
	sealer       seal.Sealer
	sources      proof.Sources
	maxBodyBytes int64
	log          *zap.Logger
}

type Option func(*API)

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func NewAPI(st backend.Store, sealer seal.Sealer, sources proof.Sources, log *zap.Logger, opts ...Option) *API {
	if log == nil {
		log = zap.NewNop()
	}
	l := ledger.New(st, log)
	a := &API{
		store:        st,
		ledger:       l,
		builder:      evidence.NewBuilder(st, st, sealer, log),
		sections:     proof.NewGenerator(st, l, sealer, log),
		rows:         ledger.NewAuditedWriter(st, l),
		sealer:       sealer,
		sources:      sources,
		maxBodyBytes: defaultMaxBodyBytes,
		log:          log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger(a.log))
	r.Use(chiMiddleware.AllowContentType("application/json"))

	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tenants/{tenant_id}", func(r chi.Router) {
			// Audit chain
			r.Post("/events", a.AppendEvent)
			r.Get("/events", a.ListEvents)
			r.Get("/events/{event_id}", a.GetEvent)
			r.Get("/chain", a.GetChainHead)
			r.Post("/chain:verify", a.VerifyChain)

			// Evidence packs
			r.Post("/packs", a.CreatePack)
			r.Get("/packs", a.ListPacks)
			r.Get("/packs/{pack_id}", a.GetPack)
			r.Post("/packs/{pack_id}:verify", a.VerifyPack)
			r.Get("/packs/{pack_id}/export", a.ExportPack)

			// Proof sections
			r.Get("/sections/{section_type}", a.GetSection)

			// Audited domain rows
			r.Get("/rows/{table}/{row_id}", a.GetRow)
			r.Put("/rows/{table}/{row_id}", a.PutRow)
			r.Delete("/rows/{table}/{row_id}", a.DeleteRow)
		})

		r.Post("/governance/proof-packs", a.CreateProofPack)
		r.Get("/governance/proof-packs/latest", a.GetLatestProofPack)
	})

	return r
}

// Handler wraps the router with server-side tracing.
func (a *API) Handler() http.Handler {
	return otelhttp.NewHandler(a.Router(), "ledger-api")
}
