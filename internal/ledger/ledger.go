package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/observability"
)

// VerifyPageSize is the number of events read per page by Verify.
const VerifyPageSize = 500

// Store is the storage port of the ledger.
//
// AppendChained must serialise appends per tenant: it reads the tail inside
// the same transaction or critical section that inserts the new event, passes
// the tail to build, and persists whatever build returns.
type Store interface {
	AppendChained(ctx context.Context, tenantID string, build func(tail core.ChainHead) (core.AuditEvent, error)) (core.AuditEvent, error)
	ListEvents(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]core.AuditEvent, error)
	GetEvent(ctx context.Context, tenantID, eventID string) (core.AuditEvent, error)
	ChainHead(ctx context.Context, tenantID string) (core.ChainHead, error)
}

// AppendInput is the caller-supplied content of a new audit event.
type AppendInput struct {
	TenantID      string          `json:"-"`
	ActorID       string          `json:"actor_id"`
	ActorRole     string          `json:"actor_role,omitempty"`
	Action        string          `json:"action"`
	TargetType    string          `json:"target_type"`
	TargetID      string          `json:"target_id"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Validate rejects structurally invalid input.
func (in AppendInput) Validate() error {
	switch {
	case strings.TrimSpace(in.TenantID) == "":
		return core.Invalid("tenant_id", "required")
	case strings.TrimSpace(in.ActorID) == "":
		return core.Invalid("actor_id", "required")
	case strings.TrimSpace(in.Action) == "":
		return core.Invalid("action", "required")
	case strings.TrimSpace(in.TargetType) == "":
		return core.Invalid("target_type", "required")
	}
	if len(in.Before) > 0 && !json.Valid(in.Before) {
		return core.Invalid("before", "not valid JSON")
	}
	if len(in.After) > 0 && !json.Valid(in.After) {
		return core.Invalid("after", "not valid JSON")
	}
	return nil
}

type Ledger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store Store, log *zap.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append links a new event to the tenant's current tail and persists it.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (core.AuditEvent, error) {
	if err := in.Validate(); err != nil {
		return core.AuditEvent{}, err
	}
	evt, err := l.store.AppendChained(ctx, in.TenantID, l.link(in, time.Now()))
	l.observe(evt, err)
	if err != nil {
		return core.AuditEvent{}, fmt.Errorf("append audit event: %w", err)
	}
	return evt, nil
}

// link returns the step that chains in onto a tenant tail. Stores call it
// while holding the tenant's append lock.
func (l *Ledger) link(in AppendInput, start time.Time) func(tail core.ChainHead) (core.AuditEvent, error) {
	return func(tail core.ChainHead) (core.AuditEvent, error) {
		observability.LockWaitSeconds.Observe(time.Since(start).Seconds())
		prev := tail.Hash
		if tail.Seq == 0 {
			prev = GenesisHash
		}
		evt := core.AuditEvent{
			ID:            core.NewID(),
			TenantID:      in.TenantID,
			Seq:           tail.Seq + 1,
			ActorID:       in.ActorID,
			ActorRole:     in.ActorRole,
			Action:        in.Action,
			TargetType:    in.TargetType,
			TargetID:      in.TargetID,
			Before:        in.Before,
			After:         in.After,
			CorrelationID: in.CorrelationID,
			PreviousHash:  prev,
			CreatedAt:     l.now().UTC().Truncate(time.Microsecond),
		}
		h, err := ComputeEventHash(evt)
		if err != nil {
			return core.AuditEvent{}, err
		}
		evt.Hash = h
		return evt, nil
	}
}

func (l *Ledger) observe(evt core.AuditEvent, err error) {
	if err != nil {
		observability.AuditAppendTotal.WithLabelValues("error").Inc()
		return
	}
	observability.AuditAppendTotal.WithLabelValues("ok").Inc()
	l.log.Debug("audit event appended",
		zap.String("tenant_id", evt.TenantID),
		zap.Int64("seq", evt.Seq),
		zap.String("action", evt.Action),
		zap.String("hash", evt.Hash),
	)
}

// Verify walks the tenant's stored chain from genesis, page by page, and
// reports the first divergence.
func (l *Ledger) Verify(ctx context.Context, tenantID string) (core.ChainVerification, error) {
	if strings.TrimSpace(tenantID) == "" {
		return core.ChainVerification{}, core.Invalid("tenant_id", "required")
	}
	prev := GenesisHash
	var afterSeq int64
	checked := 0
	for {
		page, err := l.store.ListEvents(ctx, tenantID, afterSeq, VerifyPageSize)
		if err != nil {
			return core.ChainVerification{}, fmt.Errorf("list events: %w", err)
		}
		res := VerifySegment(page, prev)
		res.EventsChecked += checked
		if !res.Valid {
			observability.ChainVerifyTotal.WithLabelValues("broken").Inc()
			observability.TenantLogger(l.log, tenantID, "verify_chain").Warn("audit chain broken",
				zap.Int64("broken_at", res.BrokenAt),
				zap.String("event_id", res.BrokenEventID),
				zap.String("reason", res.Reason),
			)
			return res, nil
		}
		if len(page) < VerifyPageSize {
			observability.ChainVerifyTotal.WithLabelValues("ok").Inc()
			return res, nil
		}
		checked = res.EventsChecked
		prev = res.HeadHash
		afterSeq = page[len(page)-1].Seq
	}
}

// Head returns the tenant's chain tail.
func (l *Ledger) Head(ctx context.Context, tenantID string) (core.ChainHead, error) {
	head, err := l.store.ChainHead(ctx, tenantID)
	if err != nil {
		return core.ChainHead{}, err
	}
	if head.Seq == 0 {
		head.Hash = GenesisHash
	}
	head.TenantID = tenantID
	return head, nil
}

// List returns up to limit events with seq greater than afterSeq.
func (l *Ledger) List(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]core.AuditEvent, error) {
	if limit <= 0 || limit > VerifyPageSize {
		limit = VerifyPageSize
	}
	return l.store.ListEvents(ctx, tenantID, afterSeq, limit)
}

// Get returns one event of the tenant.
func (l *Ledger) Get(ctx context.Context, tenantID, eventID string) (core.AuditEvent, error) {
	evt, err := l.store.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		return core.AuditEvent{}, fmt.Errorf("get event: %w", err)
	}
	return evt, nil
}
