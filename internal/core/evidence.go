package core

import (
	"encoding/json"
	"time"
)

type EvidenceType string

const (
	EvidenceQuoteAcceptance        EvidenceType = "quote_acceptance"
	EvidenceShipmentDelivery       EvidenceType = "shipment_delivery"
	EvidenceCommissionFinalization EvidenceType = "commission_finalization"
	EvidenceDecisionRecord         EvidenceType = "decision_record"
	EvidenceClosureRecord          EvidenceType = "closure_record"
	EvidenceExportRecord           EvidenceType = "export_record"
	EvidenceExamSubmission         EvidenceType = "exam_submission"
)

// TerminalActions maps each terminal audit action to the evidence type its
// sealed pack must carry.
var TerminalActions = map[string]EvidenceType{
	"quote.accepted":       EvidenceQuoteAcceptance,
	"shipment.delivered":   EvidenceShipmentDelivery,
	"commission.finalized": EvidenceCommissionFinalization,
	"decision.issued":      EvidenceDecisionRecord,
	"closure.completed":    EvidenceClosureRecord,
	"export.generated":     EvidenceExportRecord,
	"exam.submitted":       EvidenceExamSubmission,
}

// IsValid reports whether t is one of the enumerated evidence types.
func (t EvidenceType) IsValid() bool {
	for _, known := range TerminalActions {
		if known == t {
			return true
		}
	}
	return false
}

type PackStatus string

const (
	PackPending  PackStatus = "pending"
	PackSealed   PackStatus = "sealed"
	PackVerified PackStatus = "verified"
	PackBroken   PackStatus = "broken"
)

// IsSealed returns true if the pack carries a seal that has not been found broken.
func (s PackStatus) IsSealed() bool {
	return s == PackSealed || s == PackVerified
}

type ChainIntegrity string

const (
	ChainOK     ChainIntegrity = "OK"
	ChainBroken ChainIntegrity = "BROKEN"
)

// EvidenceArtifact is one named, hashed snapshot inside a pack. SHA256 is
// either the canonical hash of Payload or a precomputed content hash for an
// externally stored document at ContentPath.
type EvidenceArtifact struct {
	Name        string          `json:"name"`
	SHA256      string          `json:"sha256"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ContentPath string          `json:"content_path,omitempty"`
}

// SealEnvelope is the keyed signature over a pack index.
type SealEnvelope struct {
	Signature string `json:"signature"`
	KeyID     string `json:"key_id"`
}

type EvidencePack struct {
	ID             string             `json:"pack_id"`
	TenantID       string             `json:"tenant_id"`
	EvidenceType   EvidenceType       `json:"evidence_type"`
	SubjectID      string             `json:"subject_id"`
	TriggerEventID string             `json:"trigger_event_id,omitempty"`
	EventType      string             `json:"event_type,omitempty"`
	Artifacts      []EvidenceArtifact `json:"artifacts"`
	MerkleRoot     string             `json:"merkle_root"`
	PackDigest     string             `json:"pack_digest"`
	Seal           SealEnvelope       `json:"seal"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
	Status         PackStatus         `json:"status"`
	HashChainStart string             `json:"hash_chain_start,omitempty"`
	HashChainEnd   string             `json:"hash_chain_end,omitempty"`
	ChainIntegrity ChainIntegrity     `json:"chain_integrity"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	RequestHash    string             `json:"request_hash,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	VerifiedAt     *time.Time         `json:"verified_at,omitempty"`
}

// ArtifactRef is the name+digest pair listed in a pack index.
type ArtifactRef struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
}

// PackIndex is the document a seal is computed over.
type PackIndex struct {
	EvidenceType   EvidenceType      `json:"evidenceType"`
	TenantID       string            `json:"tenantId"`
	SubjectID      string            `json:"subjectId"`
	TriggerEventID string            `json:"triggerEventId"`
	Artifacts      []ArtifactRef     `json:"artifacts"`
	MerkleRoot     string            `json:"merkleRoot"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      string            `json:"createdAt"`
}

// Index rebuilds the pack index from the pack's stored fields.
func (p EvidencePack) Index() PackIndex {
	refs := make([]ArtifactRef, len(p.Artifacts))
	for i, a := range p.Artifacts {
		refs[i] = ArtifactRef{Name: a.Name, SHA256: a.SHA256}
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return PackIndex{
		EvidenceType:   p.EvidenceType,
		TenantID:       p.TenantID,
		SubjectID:      p.SubjectID,
		TriggerEventID: p.TriggerEventID,
		Artifacts:      refs,
		MerkleRoot:     p.MerkleRoot,
		Metadata:       metadata,
		CreatedAt:      FormatTimestamp(p.CreatedAt),
	}
}

// SealVerification separates which check failed so callers can tell a
// tampered index from a wrong key.
type SealVerification struct {
	Valid             bool `json:"valid"`
	DigestMatch       bool `json:"digest_match"`
	MerkleMatch       bool `json:"merkle_match"`
	SignatureVerified bool `json:"signature_verified"`
}

// PackFilter selects packs for listing. Zero values match everything.
type PackFilter struct {
	TenantID       string
	Status         []PackStatus
	TriggerEventID string
	VerifiedBefore *time.Time
	Limit          int
}

// FormatTimestamp is the single timestamp rendering used inside hashed payloads.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
