package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/proof"
)

// GetSection generates a signed proof section for one vertical.
func (a *API) GetSection(w http.ResponseWriter, r *http.Request) {
	section, err := a.sections.Generate(r.Context(), chi.URLParam(r, "tenant_id"), core.SectionType(chi.URLParam(r, "section_type")))
	if err != nil {
		a.fail(w, r, "generate section", err)
		return
	}
	WriteJSON(w, http.StatusOK, section)
}

type ProofPackResponse struct {
	core.GovernanceProofPack
	Verified bool `json:"verified"`
}

// CreateProofPack gathers the platform signals and persists a signed,
// immutable governance proof pack.
func (a *API) CreateProofPack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pp, err := proof.GenerateProofPack(ctx, a.sources, a.sealer, a.store, time.Now())
	if err != nil {
		a.fail(w, r, "generate proof pack", err)
		return
	}
	WriteJSON(w, http.StatusCreated, ProofPackResponse{GovernanceProofPack: pp, Verified: proof.VerifyProofPack(ctx, a.sealer, pp)})
}

// GetLatestProofPack returns the newest governance proof pack and whether its
// signature still verifies.
func (a *API) GetLatestProofPack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pp, err := a.store.LatestProofPack(ctx)
	if err != nil {
		a.fail(w, r, "latest proof pack", err)
		return
	}
	WriteJSON(w, http.StatusOK, ProofPackResponse{GovernanceProofPack: pp, Verified: proof.VerifyProofPack(ctx, a.sealer, pp)})
}
