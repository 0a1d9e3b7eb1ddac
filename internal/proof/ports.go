package proof

import (
	"context"
	"fmt"
	"time"

	"github.com/lzjever/ledgerseal/internal/core"
)

// Source is the read-only storage view sections are computed from.
type Source interface {
	CountTerminalEvents(ctx context.Context, tenantID string, actions []string) (map[string]int64, *time.Time, error)
	ListTerminalEvents(ctx context.Context, tenantID string, actions []string) ([]core.AuditEvent, error)
	ListPacks(ctx context.Context, filter core.PackFilter) ([]core.EvidencePack, error)
	ChainHead(ctx context.Context, tenantID string) (core.ChainHead, error)
}

// ChainVerifier re-verifies a tenant's stored chain.
type ChainVerifier interface {
	Verify(ctx context.Context, tenantID string) (core.ChainVerification, error)
}

// StorePorts builds the four standard ports of a section: terminal-event
// counts, sealed-pack counts, anomalies, and chain state.
func StorePorts(src Source, chain ChainVerifier, def Definition, now time.Time) []Port {
	types := def.EvidenceTypes()
	return []Port{
		func(ctx context.Context, tenantID string) (Partial, error) {
			counts, last, err := src.CountTerminalEvents(ctx, tenantID, def.Actions)
			if err != nil {
				return Partial{}, fmt.Errorf("count terminal events: %w", err)
			}
			return Partial{TerminalEvents: counts, LastEventAt: last}, nil
		},
		func(ctx context.Context, tenantID string) (Partial, error) {
			packs, err := src.ListPacks(ctx, core.PackFilter{
				TenantID: tenantID,
				Status:   []core.PackStatus{core.PackSealed, core.PackVerified},
			})
			if err != nil {
				return Partial{}, fmt.Errorf("list sealed packs: %w", err)
			}
			p := Partial{SealedPacks: map[string]int64{}}
			for _, pack := range packs {
				if !types[pack.EvidenceType] {
					continue
				}
				p.SealedPacks[string(pack.EvidenceType)]++
				created := pack.CreatedAt
				p.LastSealAt = latest(p.LastSealAt, &created)
			}
			return p, nil
		},
		func(ctx context.Context, tenantID string) (Partial, error) {
			events, err := src.ListTerminalEvents(ctx, tenantID, def.Actions)
			if err != nil {
				return Partial{}, fmt.Errorf("list terminal events: %w", err)
			}
			all, err := src.ListPacks(ctx, core.PackFilter{TenantID: tenantID})
			if err != nil {
				return Partial{}, fmt.Errorf("list packs: %w", err)
			}
			packs := all[:0:0]
			for _, pack := range all {
				if types[pack.EvidenceType] {
					packs = append(packs, pack)
				}
			}
			anomalies := DetectAnomalies(events, packs, now)
			p := Partial{Anomalies: anomalies}
			for _, a := range anomalies {
				if a.Type == core.AnomalyMissingSeal {
					p.MissingSeals++
				}
			}
			return p, nil
		},
		func(ctx context.Context, tenantID string) (Partial, error) {
			head, err := src.ChainHead(ctx, tenantID)
			if err != nil {
				return Partial{}, fmt.Errorf("chain head: %w", err)
			}
			p := Partial{ChainLength: head.Seq, ChainHead: head.Hash}
			if chain == nil {
				return p, nil
			}
			res, err := chain.Verify(ctx, tenantID)
			if err != nil {
				return Partial{}, fmt.Errorf("verify chain: %w", err)
			}
			if !res.Valid {
				p.Anomalies = []core.Anomaly{{
					Type:        core.AnomalyChainBreak,
					SubjectID:   res.BrokenEventID,
					EventType:   "audit_event",
					DetectedAt:  now.UTC(),
					Description: fmt.Sprintf("audit chain broken at seq %d: %s", res.BrokenAt, res.Reason),
				}}
			}
			return p, nil
		},
	}
}

// DetectAnomalies matches terminal events against the packs sealed for them.
// A pack belongs to an event through its trigger event id, or, when it has
// none, through subject id and evidence type.
func DetectAnomalies(events []core.AuditEvent, packs []core.EvidencePack, now time.Time) []core.Anomaly {
	type subjectKey struct {
		subject string
		evType  core.EvidenceType
	}
	byTrigger := make(map[string][]core.EvidencePack)
	bySubject := make(map[subjectKey][]core.EvidencePack)
	for _, p := range packs {
		if p.TriggerEventID != "" {
			byTrigger[p.TriggerEventID] = append(byTrigger[p.TriggerEventID], p)
		} else {
			k := subjectKey{p.SubjectID, p.EvidenceType}
			bySubject[k] = append(bySubject[k], p)
		}
	}

	detected := now.UTC()
	anomalies := []core.Anomaly{}
	for _, evt := range events {
		matches := byTrigger[evt.ID]
		if len(matches) == 0 {
			matches = bySubject[subjectKey{evt.TargetID, core.TerminalActions[evt.Action]}]
		}
		sealed := 0
		for _, p := range matches {
			if p.Status.IsSealed() {
				sealed++
			}
			if p.CreatedAt.Before(evt.CreatedAt) {
				anomalies = append(anomalies, core.Anomaly{
					Type:        core.AnomalyOutOfOrder,
					SubjectID:   evt.TargetID,
					EventType:   evt.Action,
					DetectedAt:  detected,
					Description: fmt.Sprintf("pack %s created before event %s", p.ID, evt.ID),
				})
			}
		}
		switch {
		case sealed == 0:
			anomalies = append(anomalies, core.Anomaly{
				Type:        core.AnomalyMissingSeal,
				SubjectID:   evt.TargetID,
				EventType:   evt.Action,
				DetectedAt:  detected,
				Description: fmt.Sprintf("no sealed evidence pack for event %s", evt.ID),
			})
		case sealed > 1:
			anomalies = append(anomalies, core.Anomaly{
				Type:        core.AnomalyDuplicateSeal,
				SubjectID:   evt.TargetID,
				EventType:   evt.Action,
				DetectedAt:  detected,
				Description: fmt.Sprintf("%d sealed evidence packs for event %s", sealed, evt.ID),
			})
		}
	}
	for _, p := range packs {
		if p.Status == core.PackBroken || p.ChainIntegrity == core.ChainBroken {
			anomalies = append(anomalies, core.Anomaly{
				Type:        core.AnomalyChainBreak,
				SubjectID:   p.SubjectID,
				EventType:   p.EventType,
				DetectedAt:  detected,
				Description: fmt.Sprintf("evidence pack %s failed verification", p.ID),
			})
		}
	}
	SortAnomalies(anomalies)
	return anomalies
}
