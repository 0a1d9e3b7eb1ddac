package core

import (
	"encoding/json"
	"time"
)

// AuditEvent is one append-only row of a tenant's hash chain.
type AuditEvent struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	Seq           int64           `json:"seq"`
	ActorID       string          `json:"actor_id"`
	ActorRole     string          `json:"actor_role,omitempty"`
	Action        string          `json:"action"`
	TargetType    string          `json:"target_type"`
	TargetID      string          `json:"target_id"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Hash          string          `json:"hash"`
	PreviousHash  string          `json:"previous_hash"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ChainHead is the tail of a tenant chain. An empty chain has Seq 0 and the
// genesis hash.
type ChainHead struct {
	TenantID    string    `json:"tenant_id"`
	Seq         int64     `json:"seq"`
	Hash        string    `json:"hash"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
}

// RowEventBuilder builds the audit event for a row write from the row as it
// was before the write (nil for an insert) and the tenant's chain tail.
type RowEventBuilder func(before json.RawMessage, tail ChainHead) (AuditEvent, error)

// ChainVerification reports the first point where a chain diverges.
type ChainVerification struct {
	Valid         bool   `json:"valid"`
	EventsChecked int    `json:"events_checked"`
	BrokenAt      int64  `json:"broken_at,omitempty"`
	BrokenEventID string `json:"broken_event_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	HeadHash      string `json:"head_hash"`
}

// GenesisHash is the previous hash of the first event of every chain: the
// SHA-256 of the empty string.
var GenesisHash = HashBytes(nil)
