package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lzjever/ledgerseal/internal/core"
)

// RowStore is the data-access capability for domain rows. Non-test code
// reaches its mutating methods only through AuditedWriter.
//
// Each mutating method applies the row write and inserts the event returned
// by build as one atomic unit, serialised with the tenant's other appends:
// either both persist or neither does.
type RowStore interface {
	ReadRow(ctx context.Context, tenantID, table, id string) (json.RawMessage, error)
	InsertRow(ctx context.Context, tenantID, table, id string, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error)
	UpdateRow(ctx context.Context, tenantID, table, id string, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error)
	DeleteRow(ctx context.Context, tenantID, table, id string, build core.RowEventBuilder) (core.AuditEvent, error)
}

// Actor identifies who performed a write.
type Actor struct {
	ID            string
	Role          string
	CorrelationID string
}

// Mutation is one audited row write. Action defaults to "<table>.<verb>".
type Mutation struct {
	TenantID string
	Table    string
	RowID    string
	Row      json.RawMessage
	Actor    Actor
	Action   string
}

func (m Mutation) validate(needRow bool) error {
	switch {
	case strings.TrimSpace(m.TenantID) == "":
		return core.Invalid("tenant_id", "required")
	case strings.TrimSpace(m.Actor.ID) == "":
		return core.Invalid("actor_id", "required")
	case strings.TrimSpace(m.Table) == "":
		return core.Invalid("table", "required")
	case strings.TrimSpace(m.RowID) == "":
		return core.Invalid("row_id", "required")
	case needRow && !json.Valid(m.Row):
		return core.Invalid("row", "not valid JSON")
	}
	return nil
}

func (m Mutation) action(verb string) string {
	if m.Action != "" {
		return m.Action
	}
	return m.Table + "." + verb
}

// AuditedWriter performs row writes and records each one in the tenant's
// audit chain with before/after snapshots. Reads produce no events.
type AuditedWriter struct {
	rows   RowStore
	ledger *Ledger
}

func NewAuditedWriter(rows RowStore, l *Ledger) *AuditedWriter {
	return &AuditedWriter{rows: rows, ledger: l}
}

// Insert writes a new row and appends a "<table>.created" event.
func (w *AuditedWriter) Insert(ctx context.Context, m Mutation) (core.AuditEvent, error) {
	if err := m.validate(true); err != nil {
		return core.AuditEvent{}, err
	}
	evt, err := w.rows.InsertRow(ctx, m.TenantID, m.Table, m.RowID, m.Row, w.event(m, m.action("created"), m.Row))
	w.ledger.observe(evt, err)
	if err != nil {
		return core.AuditEvent{}, fmt.Errorf("insert %s/%s: %w", m.Table, m.RowID, err)
	}
	return evt, nil
}

// Update replaces a row and appends a "<table>.updated" event carrying the
// previous and new snapshots.
func (w *AuditedWriter) Update(ctx context.Context, m Mutation) (core.AuditEvent, error) {
	if err := m.validate(true); err != nil {
		return core.AuditEvent{}, err
	}
	evt, err := w.rows.UpdateRow(ctx, m.TenantID, m.Table, m.RowID, m.Row, w.event(m, m.action("updated"), m.Row))
	w.ledger.observe(evt, err)
	if err != nil {
		return core.AuditEvent{}, fmt.Errorf("update %s/%s: %w", m.Table, m.RowID, err)
	}
	return evt, nil
}

// Delete removes a row and appends a "<table>.deleted" event with the last
// snapshot as before.
func (w *AuditedWriter) Delete(ctx context.Context, m Mutation) (core.AuditEvent, error) {
	if err := m.validate(false); err != nil {
		return core.AuditEvent{}, err
	}
	evt, err := w.rows.DeleteRow(ctx, m.TenantID, m.Table, m.RowID, w.event(m, m.action("deleted"), nil))
	w.ledger.observe(evt, err)
	if err != nil {
		return core.AuditEvent{}, fmt.Errorf("delete %s/%s: %w", m.Table, m.RowID, err)
	}
	return evt, nil
}

// Read returns a row without touching the audit chain.
func (w *AuditedWriter) Read(ctx context.Context, tenantID, table, id string) (json.RawMessage, error) {
	return w.rows.ReadRow(ctx, tenantID, table, id)
}

// event returns the build step the store runs once it holds the row's prior
// snapshot and the tenant tail.
func (w *AuditedWriter) event(m Mutation, action string, after json.RawMessage) core.RowEventBuilder {
	start := time.Now()
	return func(before json.RawMessage, tail core.ChainHead) (core.AuditEvent, error) {
		in := AppendInput{
			TenantID:      m.TenantID,
			ActorID:       m.Actor.ID,
			ActorRole:     m.Actor.Role,
			Action:        action,
			TargetType:    m.Table,
			TargetID:      m.RowID,
			Before:        before,
			After:         after,
			CorrelationID: m.Actor.CorrelationID,
		}
		if err := in.Validate(); err != nil {
			return core.AuditEvent{}, err
		}
		return w.ledger.link(in, start)(tail)
	}
}
