package proof

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/observability"
	"github.com/lzjever/ledgerseal/internal/seal"
)

// PlatformTenant is the key-derivation scope of governance proof packs.
const PlatformTenant = "platform"

// Unavailable is recorded for a signal without a configured source.
const Unavailable = "unavailable"

// SignalSource reads one platform-wide integrity signal.
type SignalSource func(ctx context.Context) (string, error)

// Sources supplies the six governance signals.
type Sources struct {
	ContractTestFingerprint SignalSource
	CIStatus                SignalSource
	MigrationID             SignalSource
	AuditChainDigest        SignalSource
	ScanStatus              SignalSource
	RedTeamSummary          SignalSource
}

// GovernanceStore persists proof packs. Rows are never updated.
type GovernanceStore interface {
	InsertProofPack(ctx context.Context, pp core.GovernanceProofPack) error
	LatestProofPack(ctx context.Context) (core.GovernanceProofPack, error)
}

type signedProofPack struct {
	ID          string       `json:"id"`
	GeneratedAt string       `json:"generatedAt"`
	Signals     core.Signals `json:"signals"`
}

// GenerateProofPack gathers every signal concurrently, signs the canonical
// {id, generatedAt, signals} document, and persists the pack as immutable.
func GenerateProofPack(ctx context.Context, sources Sources, sealer seal.Sealer, store GovernanceStore, now time.Time) (core.GovernanceProofPack, error) {
	ctx, span := observability.Tracer("proof").Start(ctx, "proof.GenerateProofPack")
	defer span.End()

	var signals core.Signals
	targets := []struct {
		src SignalSource
		dst *string
		nm  string
	}{
		{sources.ContractTestFingerprint, &signals.ContractTestFingerprint, "contract_test_fingerprint"},
		{sources.CIStatus, &signals.CIStatus, "ci_status"},
		{sources.MigrationID, &signals.MigrationID, "migration_id"},
		{sources.AuditChainDigest, &signals.AuditChainDigest, "audit_chain_digest"},
		{sources.ScanStatus, &signals.ScanStatus, "scan_status"},
		{sources.RedTeamSummary, &signals.RedTeamSummary, "red_team_summary"},
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		if t.src == nil {
			*t.dst = Unavailable
			continue
		}
		g.Go(func() error {
			v, err := t.src(gctx)
			if err != nil {
				return fmt.Errorf("signal %s: %w", t.nm, err)
			}
			*t.dst = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.GovernanceProofPack{}, err
	}

	pp := core.GovernanceProofPack{
		ID:          core.NewID(),
		GeneratedAt: now.UTC().Truncate(time.Microsecond),
		Signals:     signals,
		Immutable:   true,
	}
	payload, err := core.CanonicalJSON(signedDocument(pp))
	if err != nil {
		return core.GovernanceProofPack{}, fmt.Errorf("canonicalize proof pack: %w", err)
	}
	env, err := sealer.Sign(ctx, PlatformTenant, payload)
	if err != nil {
		return core.GovernanceProofPack{}, fmt.Errorf("sign proof pack: %w", err)
	}
	pp.SignatureHash = env.Signature
	pp.KeyID = env.KeyID
	pp.Payload = payload

	if err := store.InsertProofPack(ctx, pp); err != nil {
		return core.GovernanceProofPack{}, fmt.Errorf("persist proof pack: %w", err)
	}
	return pp, nil
}

// VerifyProofPack checks that the stored payload is the canonical form of the
// pack's fields and that its signature verifies.
func VerifyProofPack(ctx context.Context, sealer seal.Sealer, pp core.GovernanceProofPack) bool {
	payload, err := core.CanonicalJSON(signedDocument(pp))
	if err != nil || !bytes.Equal(payload, pp.Payload) {
		return false
	}
	ok, err := sealer.Verify(ctx, PlatformTenant, payload, core.SealEnvelope{Signature: pp.SignatureHash, KeyID: pp.KeyID})
	return err == nil && ok
}

func signedDocument(pp core.GovernanceProofPack) signedProofPack {
	return signedProofPack{ID: pp.ID, GeneratedAt: core.FormatTimestamp(pp.GeneratedAt), Signals: pp.Signals}
}
