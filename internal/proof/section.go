// Package proof computes signed integrity reports: per-vertical proof
// sections generated on demand, and the persisted governance proof pack.
package proof

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/observability"
	"github.com/lzjever/ledgerseal/internal/seal"
)

// Partial is what one port contributes to a section.
type Partial struct {
	TerminalEvents map[string]int64
	SealedPacks    map[string]int64
	MissingSeals   int64
	ChainLength    int64
	ChainHead      string
	LastEventAt    *time.Time
	LastSealAt     *time.Time
	Anomalies      []core.Anomaly
}

// Port is a read-only query a section fans out to. Ports of one section run
// concurrently and must not depend on each other.
type Port func(ctx context.Context, tenantID string) (Partial, error)

// Aggregate folds partials into section counters and a sorted anomaly list.
// The result does not depend on the order of parts.
func Aggregate(parts []Partial) (core.SectionCounters, []core.Anomaly) {
	c := core.SectionCounters{
		TerminalEvents: map[string]int64{},
		SealedPacks:    map[string]int64{},
	}
	anomalies := []core.Anomaly{}
	for _, p := range parts {
		for k, v := range p.TerminalEvents {
			c.TerminalEvents[k] += v
		}
		for k, v := range p.SealedPacks {
			c.SealedPacks[k] += v
		}
		c.MissingSeals += p.MissingSeals
		if p.ChainLength > c.ChainLength || (p.ChainLength == c.ChainLength && p.ChainHead > c.ChainHead) {
			c.ChainLength = p.ChainLength
			c.ChainHead = p.ChainHead
		}
		c.LastEventAt = latest(c.LastEventAt, p.LastEventAt)
		c.LastSealAt = latest(c.LastSealAt, p.LastSealAt)
		anomalies = append(anomalies, p.Anomalies...)
	}
	SortAnomalies(anomalies)
	return c, anomalies
}

func latest(a, b *time.Time) *time.Time {
	if b == nil {
		return a
	}
	if a == nil || b.After(*a) {
		t := *b
		return &t
	}
	return a
}

// SortAnomalies orders anomalies by type, subject, event type and description.
func SortAnomalies(anomalies []core.Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		a, b := anomalies[i], anomalies[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.EventType != b.EventType {
			return a.EventType < b.EventType
		}
		return a.Description < b.Description
	})
}

// ComputeVerdict applies the verdict precedence: a chain break or any missing
// seal fails the section, any other anomaly warns, otherwise it passes.
func ComputeVerdict(missingSeals int64, anomalies []core.Anomaly) core.Verdict {
	if missingSeals > 0 {
		return core.VerdictFail
	}
	for _, a := range anomalies {
		if a.Type == core.AnomalyChainBreak || a.Type == core.AnomalyMissingSeal {
			return core.VerdictFail
		}
	}
	if len(anomalies) > 0 {
		return core.VerdictWarn
	}
	return core.VerdictPass
}

// GenerateSection runs every port concurrently, aggregates the partials,
// computes the verdict and signs the section. A failing port fails the
// whole section; no partial report is produced.
func GenerateSection(ctx context.Context, sealer seal.Sealer, sectionType core.SectionType, tenantID string, ports []Port, now time.Time) (core.ProofSection, error) {
	if strings.TrimSpace(tenantID) == "" {
		return core.ProofSection{}, core.Invalid("tenant_id", "required")
	}
	ctx, span := observability.Tracer("proof").Start(ctx, "proof.GenerateSection")
	defer span.End()
	span.SetAttributes(attribute.String("section_type", string(sectionType)), attribute.String("tenant_id", tenantID))

	parts := make([]Partial, len(ports))
	g, gctx := errgroup.WithContext(ctx)
	for i, port := range ports {
		g.Go(func() error {
			p, err := port(gctx, tenantID)
			if err != nil {
				return err
			}
			parts[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.ProofSection{}, fmt.Errorf("section %s: %w", sectionType, err)
	}

	counters, anomalies := Aggregate(parts)
	section := core.ProofSection{
		ID:          core.NewID(),
		Type:        sectionType,
		TenantID:    tenantID,
		GeneratedAt: now.UTC().Truncate(time.Microsecond),
		Counters:    counters,
		Anomalies:   anomalies,
		Verdict:     ComputeVerdict(counters.MissingSeals, anomalies),
	}
	env, err := seal.SignPayload(ctx, sealer, tenantID, unsigned(section))
	if err != nil {
		return core.ProofSection{}, fmt.Errorf("sign section: %w", err)
	}
	section.KeyID = env.KeyID
	section.Signature = env.Signature

	observability.SectionVerdictTotal.WithLabelValues(string(sectionType), string(section.Verdict)).Inc()
	for _, a := range anomalies {
		observability.AnomalyTotal.WithLabelValues(string(a.Type)).Inc()
	}
	span.SetAttributes(attribute.String("verdict", string(section.Verdict)))
	return section, nil
}

// VerifySection recomputes the section signature.
func VerifySection(ctx context.Context, sealer seal.Sealer, section core.ProofSection) bool {
	env := core.SealEnvelope{Signature: section.Signature, KeyID: section.KeyID}
	return seal.VerifyPayload(ctx, sealer, section.TenantID, unsigned(section), env)
}

func unsigned(s core.ProofSection) core.ProofSection {
	s.KeyID = ""
	s.Signature = ""
	return s
}

// Generator produces built-in sections from a storage source.
type Generator struct {
	source Source
	chain  ChainVerifier
	sealer seal.Sealer
	log    *zap.Logger
	now    func() time.Time
}

func NewGenerator(source Source, chain ChainVerifier, sealer seal.Sealer, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{source: source, chain: chain, sealer: sealer, log: log, now: time.Now}
}

// Generate builds the named section for a tenant.
func (g *Generator) Generate(ctx context.Context, tenantID string, sectionType core.SectionType) (core.ProofSection, error) {
	def, ok := DefinitionFor(sectionType)
	if !ok {
		return core.ProofSection{}, core.Invalid("section_type", fmt.Sprintf("unknown section %q", sectionType))
	}
	now := g.now()
	section, err := GenerateSection(ctx, g.sealer, def.Type, tenantID, StorePorts(g.source, g.chain, def, now), now)
	if err != nil {
		return core.ProofSection{}, err
	}
	g.log.Info("proof section generated",
		zap.String("tenant_id", tenantID),
		zap.String("section_type", string(def.Type)),
		zap.String("verdict", string(section.Verdict)),
		zap.Int("anomalies", len(section.Anomalies)),
	)
	return section, nil
}
