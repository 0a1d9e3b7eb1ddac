package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/ledger"
	"github.com/lzjever/ledgerseal/internal/observability"
	"github.com/lzjever/ledgerseal/internal/seal"
)

// AuditTrailArtifact is the name of the optional audit excerpt artifact.
const AuditTrailArtifact = "audit_trail"

// auditTrailLimit caps the events excerpted into one pack.
const auditTrailLimit = 200

// EventReader is the read side of the ledger the builder needs.
type EventReader interface {
	GetEvent(ctx context.Context, tenantID, eventID string) (core.AuditEvent, error)
	ChainHead(ctx context.Context, tenantID string) (core.ChainHead, error)
	ListEventsByTarget(ctx context.Context, tenantID, targetID string, limit int) ([]core.AuditEvent, error)
}

// Store persists evidence packs. Packs are never rewritten: only status,
// chain integrity and verification time change after creation.
type Store interface {
	CreatePack(ctx context.Context, pack core.EvidencePack) error
	GetPack(ctx context.Context, tenantID, packID string) (core.EvidencePack, error)
	FindPackByIdempotencyKey(ctx context.Context, tenantID, key string) (core.EvidencePack, error)
	ListPacks(ctx context.Context, filter core.PackFilter) ([]core.EvidencePack, error)
	UpdatePackStatus(ctx context.Context, tenantID, packID string, status core.PackStatus, integrity core.ChainIntegrity, verifiedAt time.Time) error
}

// Request is a pack build issued against stored audit history.
type Request struct {
	TenantID          string            `json:"-"`
	EvidenceType      core.EvidenceType `json:"evidence_type,omitempty"`
	SubjectID         string            `json:"subject_id,omitempty"`
	TriggerEventID    string            `json:"trigger_event_id,omitempty"`
	Artifacts         []ArtifactInput   `json:"artifacts"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	IncludeAuditTrail bool              `json:"include_audit_trail,omitempty"`
	IdempotencyKey    string            `json:"-"`
	RequestHash       string            `json:"-"`
}

type Builder struct {
	events EventReader
	store  Store
	sealer seal.Sealer
	log    *zap.Logger
	now    func() time.Time
}

func NewBuilder(events EventReader, store Store, sealer seal.Sealer, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{events: events, store: store, sealer: sealer, log: log, now: time.Now}
}

// Build resolves the trigger event and chain head, seals the pack and
// persists it. replayed is true when an earlier build with the same
// idempotency key and request hash is returned instead.
func (b *Builder) Build(ctx context.Context, req Request) (pack core.EvidencePack, replayed bool, err error) {
	ctx, span := observability.Tracer("evidence").Start(ctx, "evidence.Build")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", req.TenantID))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.SetStatus(codes.Error, err.Error())
		}
		evType := pack.EvidenceType
		if evType == "" {
			evType = req.EvidenceType
		}
		observability.PackBuildTotal.WithLabelValues(string(evType), status).Inc()
		observability.PackBuildDuration.WithLabelValues(string(evType)).Observe(time.Since(start).Seconds())
	}()

	if req.IdempotencyKey != "" {
		existing, found, rerr := b.replay(ctx, req)
		if rerr != nil || found {
			return existing, found, rerr
		}
	}

	build := BuildRequest{
		TenantID:       req.TenantID,
		EvidenceType:   req.EvidenceType,
		SubjectID:      req.SubjectID,
		TriggerEventID: req.TriggerEventID,
		Artifacts:      req.Artifacts,
		Metadata:       req.Metadata,
		CreatedAt:      b.now(),
	}

	var trigger core.AuditEvent
	if req.TriggerEventID != "" {
		trigger, err = b.events.GetEvent(ctx, req.TenantID, req.TriggerEventID)
		if errors.Is(err, core.ErrRecordNotFound) {
			return core.EvidencePack{}, false, core.Invalid("trigger_event_id", "unknown audit event")
		}
		if err != nil {
			return core.EvidencePack{}, false, fmt.Errorf("load trigger event: %w", err)
		}
		if build.SubjectID == "" {
			build.SubjectID = trigger.TargetID
		}
		expected, terminal := core.TerminalActions[trigger.Action]
		switch {
		case build.EvidenceType == "":
			build.EvidenceType = expected
		case terminal && build.EvidenceType != expected:
			return core.EvidencePack{}, false, core.Invalid("evidence_type",
				fmt.Sprintf("trigger action %q requires evidence type %q", trigger.Action, expected))
		}
	}

	head, err := b.events.ChainHead(ctx, req.TenantID)
	if err != nil {
		return core.EvidencePack{}, false, fmt.Errorf("read chain head: %w", err)
	}

	if req.IncludeAuditTrail && build.SubjectID != "" {
		trail, err := b.auditTrail(ctx, req.TenantID, build.SubjectID)
		if err != nil {
			return core.EvidencePack{}, false, err
		}
		build.Artifacts = append(append([]ArtifactInput(nil), build.Artifacts...), trail)
	}

	pack, err = BuildPack(ctx, b.sealer, build)
	if err != nil {
		return core.EvidencePack{}, false, err
	}
	pack.EventType = trigger.Action
	pack.HashChainStart = trigger.Hash
	pack.HashChainEnd = head.Hash
	if head.Seq == 0 {
		pack.HashChainEnd = core.GenesisHash
	}
	pack.IdempotencyKey = req.IdempotencyKey
	pack.RequestHash = req.RequestHash

	if err := b.store.CreatePack(ctx, pack); err != nil {
		// A concurrent build with the same key won the insert.
		if errors.Is(err, core.ErrIdempotencyConflict) && req.IdempotencyKey != "" {
			existing, found, rerr := b.replay(ctx, req)
			if rerr != nil || found {
				return existing, found, rerr
			}
		}
		return core.EvidencePack{}, false, fmt.Errorf("persist pack: %w", err)
	}
	span.SetAttributes(attribute.String("pack_id", pack.ID), attribute.String("merkle_root", pack.MerkleRoot))
	observability.PackLogger(b.log, pack.TenantID, pack.ID).Info("evidence pack sealed",
		zap.String("evidence_type", string(pack.EvidenceType)),
		zap.Int("artifacts", len(pack.Artifacts)),
		zap.String("merkle_root", pack.MerkleRoot),
	)
	return pack, false, nil
}

// replay looks up an earlier build under req's idempotency key. found is
// true when it exists with the same request hash; a different hash is a
// conflict.
func (b *Builder) replay(ctx context.Context, req Request) (core.EvidencePack, bool, error) {
	existing, err := b.store.FindPackByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
	switch {
	case errors.Is(err, core.ErrRecordNotFound):
		return core.EvidencePack{}, false, nil
	case err != nil:
		return core.EvidencePack{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	case existing.RequestHash != req.RequestHash:
		return core.EvidencePack{}, false, core.ErrIdempotencyConflict
	}
	return existing, true, nil
}

type trailEntry struct {
	Seq          int64  `json:"seq"`
	EventID      string `json:"eventId"`
	Action       string `json:"action"`
	Hash         string `json:"hash"`
	PreviousHash string `json:"previousHash"`
}

func (b *Builder) auditTrail(ctx context.Context, tenantID, subjectID string) (ArtifactInput, error) {
	events, err := b.events.ListEventsByTarget(ctx, tenantID, subjectID, auditTrailLimit)
	if err != nil {
		return ArtifactInput{}, fmt.Errorf("load audit trail: %w", err)
	}
	entries := make([]trailEntry, len(events))
	for i, e := range events {
		entries[i] = trailEntry{Seq: e.Seq, EventID: e.ID, Action: e.Action, Hash: e.Hash, PreviousHash: e.PreviousHash}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return ArtifactInput{}, err
	}
	return ArtifactInput{Name: AuditTrailArtifact, Payload: payload}, nil
}

// Get returns a stored pack.
func (b *Builder) Get(ctx context.Context, tenantID, packID string) (core.EvidencePack, error) {
	return b.store.GetPack(ctx, tenantID, packID)
}

// List returns the tenant's packs matching filter.
func (b *Builder) List(ctx context.Context, filter core.PackFilter) ([]core.EvidencePack, error) {
	return b.store.ListPacks(ctx, filter)
}

// Reverify checks a stored pack's seal and that its trigger event still
// carries the hash recorded when the pack was sealed. It returns an error
// when either check could not be carried out.
func (b *Builder) Reverify(ctx context.Context, pack core.EvidencePack) (core.SealVerification, core.ChainIntegrity, error) {
	res, err := seal.VerifySeal(ctx, b.sealer, pack)
	if err != nil {
		return core.SealVerification{}, "", err
	}
	if pack.TriggerEventID == "" {
		return res, core.ChainOK, nil
	}
	evt, err := b.events.GetEvent(ctx, pack.TenantID, pack.TriggerEventID)
	if errors.Is(err, core.ErrRecordNotFound) {
		return res, core.ChainBroken, nil
	}
	if err != nil {
		return res, "", fmt.Errorf("load trigger event: %w", err)
	}
	if evt.Hash != pack.HashChainStart {
		return res, core.ChainBroken, nil
	}
	if h, err := ledger.ComputeEventHash(evt); err != nil || h != evt.Hash {
		return res, core.ChainBroken, nil
	}
	return res, core.ChainOK, nil
}

// Outcome is the result of re-verifying a stored pack.
type Outcome struct {
	Pack           core.EvidencePack     `json:"pack"`
	Seal           core.SealVerification `json:"seal"`
	ChainIntegrity core.ChainIntegrity   `json:"chain_integrity"`
	Previous       core.PackStatus       `json:"previous_status"`
}

// Settle re-verifies a pack and records the result: a pack whose seal and
// chain link both hold becomes verified, anything else becomes broken.
// Broken is final and is never written again. A verification that could not
// complete leaves the stored status untouched.
func (b *Builder) Settle(ctx context.Context, pack core.EvidencePack) (Outcome, error) {
	res, integrity, err := b.Reverify(ctx, pack)
	if err != nil {
		return Outcome{}, fmt.Errorf("reverify pack %s: %w", pack.ID, err)
	}
	out := Outcome{Pack: pack, Seal: res, ChainIntegrity: integrity, Previous: pack.Status}
	if pack.Status == core.PackBroken {
		return out, nil
	}
	next := core.PackVerified
	if !res.Valid || integrity != core.ChainOK {
		next = core.PackBroken
	}
	now := b.now().UTC()
	if err := b.store.UpdatePackStatus(ctx, pack.TenantID, pack.ID, next, integrity, now); err != nil {
		return Outcome{}, fmt.Errorf("update pack status: %w", err)
	}
	if next != pack.Status {
		observability.PackStatusTransitions.WithLabelValues(string(pack.Status), string(next)).Inc()
		b.log.Info("pack status changed",
			zap.String("tenant_id", pack.TenantID),
			zap.String("pack_id", pack.ID),
			zap.String("from", string(pack.Status)),
			zap.String("to", string(next)),
		)
	}
	out.Pack.Status = next
	out.Pack.ChainIntegrity = integrity
	out.Pack.VerifiedAt = &now
	return out, nil
}
