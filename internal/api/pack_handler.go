package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/evidence"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

type VerifyPackResponse struct {
	PackID            string              `json:"pack_id"`
	Status            core.PackStatus     `json:"status"`
	PreviousStatus    core.PackStatus     `json:"previous_status"`
	Valid             bool                `json:"valid"`
	DigestMatch       bool                `json:"digest_match"`
	MerkleMatch       bool                `json:"merkle_match"`
	SignatureVerified bool                `json:"signature_verified"`
	ChainIntegrity    core.ChainIntegrity `json:"chain_integrity"`
	VerifiedAt        string              `json:"verified_at,omitempty"`
}

// CreatePack builds and seals an evidence pack. A repeated Idempotency-Key
// with the same body returns the stored pack.
func (a *API) CreatePack(w http.ResponseWriter, r *http.Request) {
	var req evidence.Request
	body, ok := a.decodeBody(w, r, &req)
	if !ok {
		return
	}
	if len(body) == 0 {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "request body required"))
		return
	}
	req.TenantID = chi.URLParam(r, "tenant_id")
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if req.IdempotencyKey != "" {
		req.RequestHash = core.ComputeRequestHash(body, r.Method, r.URL.Path)
	}

	pack, replayed, err := a.builder.Build(r.Context(), req)
	if err != nil {
		a.fail(w, r, "build pack", err)
		return
	}
	if replayed {
		w.Header().Set(ReplayedHeader, "true")
		WriteJSON(w, http.StatusOK, pack)
		return
	}
	WriteJSON(w, http.StatusCreated, pack)
}

// ListPacks lists packs, newest first, optionally filtered by status.
func (a *API) ListPacks(w http.ResponseWriter, r *http.Request) {
	filter := core.PackFilter{
		TenantID:       chi.URLParam(r, "tenant_id"),
		TriggerEventID: r.URL.Query().Get("trigger_event_id"),
		Limit:          parseLimit(r.URL.Query().Get("limit"), 50, 500),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			st := core.PackStatus(strings.TrimSpace(part))
			switch st {
			case core.PackPending, core.PackSealed, core.PackVerified, core.PackBroken:
				filter.Status = append(filter.Status, st)
			default:
				WriteError(w, core.NewAppError(core.ErrBadRequest, fmt.Sprintf("unknown status %q", st)))
				return
			}
		}
	}

	packs, err := a.builder.List(r.Context(), filter)
	if err != nil {
		a.fail(w, r, "list packs", err)
		return
	}
	if packs == nil {
		packs = []core.EvidencePack{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"packs": packs,
	})
}

// GetPack returns a stored pack.
func (a *API) GetPack(w http.ResponseWriter, r *http.Request) {
	pack, err := a.builder.Get(r.Context(), chi.URLParam(r, "tenant_id"), chi.URLParam(r, "pack_id"))
	if err != nil {
		a.fail(w, r, "get pack", err)
		return
	}
	WriteJSON(w, http.StatusOK, pack)
}

// VerifyPack re-checks a pack's seal and trigger link and records the new
// status.
func (a *API) VerifyPack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pack, err := a.builder.Get(ctx, chi.URLParam(r, "tenant_id"), chi.URLParam(r, "pack_id"))
	if err != nil {
		a.fail(w, r, "get pack", err)
		return
	}
	out, err := a.builder.Settle(ctx, pack)
	if err != nil {
		a.fail(w, r, "verify pack", err)
		return
	}

	resp := VerifyPackResponse{
		PackID:            out.Pack.ID,
		Status:            out.Pack.Status,
		PreviousStatus:    out.Previous,
		Valid:             out.Seal.Valid,
		DigestMatch:       out.Seal.DigestMatch,
		MerkleMatch:       out.Seal.MerkleMatch,
		SignatureVerified: out.Seal.SignatureVerified,
		ChainIntegrity:    out.ChainIntegrity,
	}
	if out.Pack.VerifiedAt != nil {
		resp.VerifiedAt = core.FormatTimestamp(*out.Pack.VerifiedAt)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ExportPack downloads the offline-verifiable bundle of a pack that has not
// been found broken.
func (a *API) ExportPack(w http.ResponseWriter, r *http.Request) {
	pack, err := a.builder.Get(r.Context(), chi.URLParam(r, "tenant_id"), chi.URLParam(r, "pack_id"))
	if err != nil {
		a.fail(w, r, "get pack", err)
		return
	}
	if !pack.Status.IsSealed() {
		WriteError(w, core.NewAppError(core.ErrPreconditionFailed, fmt.Sprintf("pack is %s", pack.Status)))
		return
	}
	bundle, err := evidence.Export(pack)
	if err != nil {
		a.fail(w, r, "export pack", err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="evidence-%s.json"`, pack.ID))
	WriteJSON(w, http.StatusOK, bundle)
}
