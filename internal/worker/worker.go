package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzjever/ledgerseal/internal/backend"
	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/evidence"
	"github.com/lzjever/ledgerseal/internal/ledger"
	"github.com/lzjever/ledgerseal/internal/observability"
	"github.com/lzjever/ledgerseal/internal/proof"
	"github.com/lzjever/ledgerseal/internal/seal"
)

// Worker periodically re-verifies every tenant's chain and sealed packs.
type Worker struct {
	store    backend.Store
	ledger   *ledger.Ledger
	builder  *evidence.Builder
	sections *proof.Generator
	sealer   seal.Sealer
	sources  proof.Sources
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

func New(st backend.Store, sealer seal.Sealer, sources proof.Sources, cfg Config, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	l := ledger.New(st, log)
	return &Worker{
		store:    st,
		ledger:   l,
		builder:  evidence.NewBuilder(st, st, sealer, log),
		sections: proof.NewGenerator(st, l, sealer, log),
		sealer:   sealer,
		sources:  sources,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps immediately and then every SweepInterval until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", zap.Duration("interval", w.cfg.SweepInterval))
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := w.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("sweep failed", zap.Error(err))
		}
		if err := w.maybeProofPack(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("governance proof pack failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// SweepResult summarises one pass over every tenant.
type SweepResult struct {
	Tenants       int
	BrokenChains  []string
	PacksChecked  int
	PacksVerified int
	PacksBroken   int
}

// Sweep verifies each tenant with bounded concurrency.
func (w *Worker) Sweep(ctx context.Context) (res SweepResult, err error) {
	ctx, span := observability.Tracer("worker").Start(ctx, "worker.Sweep")
	defer span.End()
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.SweepTotal.WithLabelValues(status).Inc()
		observability.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	tenants, err := w.store.ListTenants(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list tenants: %w", err)
	}
	res.Tenants = len(tenants)

	var checked, verified, broken, backlog atomic.Int64
	brokenChains := make([]bool, len(tenants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i, tenantID := range tenants {
		g.Go(func() error {
			t, err := w.sweepTenant(gctx, tenantID)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", tenantID, err)
			}
			brokenChains[i] = !t.chainValid
			checked.Add(int64(t.checked))
			verified.Add(int64(t.verified))
			broken.Add(int64(t.broken))
			backlog.Add(int64(t.backlog))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}

	for i, b := range brokenChains {
		if b {
			res.BrokenChains = append(res.BrokenChains, tenants[i])
		}
	}
	res.PacksChecked = int(checked.Load())
	res.PacksVerified = int(verified.Load())
	res.PacksBroken = int(broken.Load())
	observability.SweepBacklog.Set(float64(backlog.Load()))

	w.log.Info("sweep complete",
		zap.Int("tenants", res.Tenants),
		zap.Int("broken_chains", len(res.BrokenChains)),
		zap.Int("packs_checked", res.PacksChecked),
		zap.Int("packs_broken", res.PacksBroken),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

type tenantSweep struct {
	chainValid bool
	checked    int
	verified   int
	broken     int
	backlog    int
}

func (w *Worker) sweepTenant(ctx context.Context, tenantID string) (tenantSweep, error) {
	log := observability.TenantLogger(w.log, tenantID, "sweep")

	chain, err := w.ledger.Verify(ctx, tenantID)
	if err != nil {
		return tenantSweep{}, err
	}
	out := tenantSweep{chainValid: chain.Valid}

	packs, err := w.duePacks(ctx, tenantID)
	if err != nil {
		return tenantSweep{}, err
	}
	if len(packs) == w.cfg.BatchSize {
		out.backlog = len(packs)
	}
	for _, pack := range packs {
		res, err := w.builder.Settle(ctx, pack)
		if err != nil {
			return tenantSweep{}, fmt.Errorf("settle pack %s: %w", pack.ID, err)
		}
		out.checked++
		switch res.Pack.Status {
		case core.PackVerified:
			out.verified++
		case core.PackBroken:
			out.broken++
			log.Warn("evidence pack failed verification",
				zap.String("pack_id", pack.ID),
				zap.Bool("digest_match", res.Seal.DigestMatch),
				zap.Bool("merkle_match", res.Seal.MerkleMatch),
				zap.Bool("signature_verified", res.Seal.SignatureVerified),
				zap.String("chain_integrity", string(res.ChainIntegrity)),
			)
		}
	}

	if w.cfg.EvaluateSection {
		for _, def := range proof.Definitions() {
			if _, err := w.sections.Generate(ctx, tenantID, def.Type); err != nil {
				return tenantSweep{}, fmt.Errorf("section %s: %w", def.Type, err)
			}
		}
	}
	return out, nil
}

// duePacks returns sealed packs plus verified packs whose last check is older
// than ReverifyAfter. Broken packs are never revisited.
func (w *Worker) duePacks(ctx context.Context, tenantID string) ([]core.EvidencePack, error) {
	sealed, err := w.store.ListPacks(ctx, core.PackFilter{
		TenantID: tenantID,
		Status:   []core.PackStatus{core.PackSealed},
		Limit:    w.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list sealed packs: %w", err)
	}
	if w.cfg.ReverifyAfter <= 0 || len(sealed) >= w.cfg.BatchSize {
		return sealed, nil
	}
	before := w.now().Add(-w.cfg.ReverifyAfter)
	stale, err := w.store.ListPacks(ctx, core.PackFilter{
		TenantID:       tenantID,
		Status:         []core.PackStatus{core.PackVerified},
		VerifiedBefore: &before,
		Limit:          w.cfg.BatchSize - len(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("list stale packs: %w", err)
	}
	return append(sealed, stale...), nil
}

// maybeProofPack emits a governance proof pack when the latest one is older
// than ProofPackEvery. A zero interval disables it.
func (w *Worker) maybeProofPack(ctx context.Context) error {
	if w.cfg.ProofPackEvery <= 0 {
		return nil
	}
	latest, err := w.store.LatestProofPack(ctx)
	switch {
	case err == nil:
		if w.now().Sub(latest.GeneratedAt) < w.cfg.ProofPackEvery {
			return nil
		}
	case !errors.Is(err, core.ErrRecordNotFound):
		return err
	}
	pp, err := proof.GenerateProofPack(ctx, w.sources, w.sealer, w.store, w.now())
	if err != nil {
		return err
	}
	w.log.Info("governance proof pack generated",
		zap.String("proof_pack_id", pp.ID),
		zap.String("audit_chain_digest", pp.Signals.AuditChainDigest),
	)
	return nil
}
