package core

import "time"

type AnomalyType string

const (
	AnomalyMissingSeal   AnomalyType = "missing_seal"
	AnomalyChainBreak    AnomalyType = "chain_break"
	AnomalyOutOfOrder    AnomalyType = "out_of_order"
	AnomalyDuplicateSeal AnomalyType = "duplicate_seal"
)

// Anomaly is a detected integrity defect. Anomalies are recomputed on every
// verification pass and never stored on their own.
type Anomaly struct {
	Type        AnomalyType `json:"type"`
	SubjectID   string      `json:"subject_id"`
	EventType   string      `json:"event_type,omitempty"`
	DetectedAt  time.Time   `json:"detected_at"`
	Description string      `json:"description"`
}

type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

type SectionType string

const (
	SectionDecisionLedger   SectionType = "decision_ledger"
	SectionExamIntegrity    SectionType = "exam_integrity"
	SectionCommerceEvidence SectionType = "commerce_evidence"
)

// SectionCounters are the aggregate counters of a proof section.
type SectionCounters struct {
	TerminalEvents map[string]int64 `json:"terminal_events"`
	SealedPacks    map[string]int64 `json:"sealed_packs"`
	MissingSeals   int64            `json:"missing_seals"`
	ChainLength    int64            `json:"chain_length"`
	ChainHead      string           `json:"chain_head"`
	LastEventAt    *time.Time       `json:"last_event_at,omitempty"`
	LastSealAt     *time.Time       `json:"last_seal_at,omitempty"`
}

// ProofSection is a signed, read-only integrity report for one vertical.
type ProofSection struct {
	ID          string          `json:"section_id"`
	Type        SectionType     `json:"section_type"`
	TenantID    string          `json:"tenant_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Counters    SectionCounters `json:"counters"`
	Anomalies   []Anomaly       `json:"anomalies"`
	Verdict     Verdict         `json:"verdict"`
	KeyID       string          `json:"key_id"`
	Signature   string          `json:"signature"`
}

// Signals are the platform-wide integrity inputs of a governance proof pack.
type Signals struct {
	ContractTestFingerprint string `json:"contract_test_fingerprint"`
	CIStatus                string `json:"ci_status"`
	MigrationID             string `json:"migration_id"`
	AuditChainDigest        string `json:"audit_chain_digest"`
	ScanStatus              string `json:"scan_status"`
	RedTeamSummary          string `json:"red_team_summary"`
}

// GovernanceProofPack is persisted once and flagged immutable.
type GovernanceProofPack struct {
	ID            string    `json:"proof_pack_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	Signals       Signals   `json:"signals"`
	SignatureHash string    `json:"signature_hash"`
	KeyID         string    `json:"key_id"`
	Immutable     bool      `json:"immutable"`
	Payload       []byte    `json:"payload"`
}
