// Package ledger maintains the per-tenant, append-only, hash-chained audit
// log and verifies it.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lzjever/ledgerseal/internal/core"
)

// GenesisHash is the previous hash of the first event of every tenant chain.
var GenesisHash = core.GenesisHash

// ComputeEventHash hashes the event's content fields together with its
// previous hash. The stored Hash field is not an input.
func ComputeEventHash(evt core.AuditEvent) (string, error) {
	payload, err := eventPayload(evt)
	if err != nil {
		return "", err
	}
	return core.Hash(payload)
}

func eventPayload(evt core.AuditEvent) (map[string]any, error) {
	before, err := decodeSnapshot("before", evt.Before)
	if err != nil {
		return nil, err
	}
	after, err := decodeSnapshot("after", evt.After)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":            evt.ID,
		"tenantId":      evt.TenantID,
		"seq":           evt.Seq,
		"actorId":       evt.ActorID,
		"actorRole":     evt.ActorRole,
		"action":        evt.Action,
		"targetType":    evt.TargetType,
		"targetId":      evt.TargetID,
		"before":        before,
		"after":         after,
		"correlationId": evt.CorrelationID,
		"createdAt":     core.FormatTimestamp(evt.CreatedAt.Truncate(time.Microsecond)),
		"previousHash":  evt.PreviousHash,
	}, nil
}

func decodeSnapshot(field string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, core.Invalid(field, "not valid JSON")
	}
	// Kept raw so the canonical hasher sees every digit of large numbers.
	return raw, nil
}

// VerifyChain reports whether events, in insertion order, form an intact
// chain rooted at the genesis hash. An empty chain is valid.
func VerifyChain(events []core.AuditEvent) bool {
	return VerifySegment(events, GenesisHash).Valid
}

// VerifySegment checks a contiguous run of events whose first element must
// link to expectedPrev. It stops at the first divergence: every event from
// that point on is untrusted.
func VerifySegment(events []core.AuditEvent, expectedPrev string) core.ChainVerification {
	prev := expectedPrev
	for i, evt := range events {
		reason := ""
		if evt.PreviousHash != prev {
			reason = "previous hash does not match the preceding event"
		} else if h, err := ComputeEventHash(evt); err != nil {
			reason = fmt.Sprintf("event cannot be hashed: %v", err)
		} else if h != evt.Hash {
			reason = "stored hash does not match event content"
		}
		if reason != "" {
			return core.ChainVerification{
				Valid:         false,
				EventsChecked: i,
				BrokenAt:      evt.Seq,
				BrokenEventID: evt.ID,
				Reason:        reason,
				HeadHash:      prev,
			}
		}
		prev = evt.Hash
	}
	return core.ChainVerification{Valid: true, EventsChecked: len(events), HeadHash: prev}
}
