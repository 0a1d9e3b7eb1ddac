package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lzjever/ledgerseal/internal/api/middleware"
	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/ledger"
)

const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

type RowWriteResponse struct {
	Event core.AuditEvent `json:"event"`
}

func mutationFrom(r *http.Request) ledger.Mutation {
	return ledger.Mutation{
		TenantID: chi.URLParam(r, "tenant_id"),
		Table:    chi.URLParam(r, "table"),
		RowID:    chi.URLParam(r, "row_id"),
		Actor: ledger.Actor{
			ID:            r.Header.Get(ActorIDHeader),
			Role:          r.Header.Get(ActorRoleHeader),
			CorrelationID: middleware.GetRequestID(r),
		},
	}
}

// GetRow reads a domain row. Reads are not audited.
func (a *API) GetRow(w http.ResponseWriter, r *http.Request) {
	m := mutationFrom(r)
	row, err := a.rows.Read(r.Context(), m.TenantID, m.Table, m.RowID)
	if err != nil {
		a.fail(w, r, "read row", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(row)
}

// PutRow creates or replaces a domain row and records the write in the
// tenant chain.
func (a *API) PutRow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	m := mutationFrom(r)
	m.Row = body

	_, err := a.rows.Read(ctx, m.TenantID, m.Table, m.RowID)
	switch {
	case err == nil:
		evt, err := a.rows.Update(ctx, m)
		if err != nil {
			a.fail(w, r, "update row", err)
			return
		}
		WriteJSON(w, http.StatusOK, RowWriteResponse{Event: evt})
	case errors.Is(err, core.ErrRecordNotFound):
		evt, err := a.rows.Insert(ctx, m)
		if err != nil {
			a.fail(w, r, "insert row", err)
			return
		}
		WriteJSON(w, http.StatusCreated, RowWriteResponse{Event: evt})
	default:
		a.fail(w, r, "read row", err)
	}
}

// DeleteRow removes a domain row and records the deletion.
func (a *API) DeleteRow(w http.ResponseWriter, r *http.Request) {
	evt, err := a.rows.Delete(r.Context(), mutationFrom(r))
	if err != nil {
		a.fail(w, r, "delete row", err)
		return
	}
	WriteJSON(w, http.StatusOK, RowWriteResponse{Event: evt})
}
