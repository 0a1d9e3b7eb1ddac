package proof_test

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/evidence"
	"github.com/lzjever/ledgerseal/internal/ledger"
	"github.com/lzjever/ledgerseal/internal/proof"
	"github.com/lzjever/ledgerseal/internal/seal"
	"github.com/lzjever/ledgerseal/internal/store/memstore"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func ring(t *testing.T) *seal.Keyring {
	t.Helper()
	r, err := seal.NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func anomaly(typ core.AnomalyType, subject string) core.Anomaly {
	return core.Anomaly{Type: typ, SubjectID: subject}
}

func TestComputeVerdictPrecedence(t *testing.T) {
	many := make([]core.Anomaly, 50)
	for i := range many {
		many[i] = anomaly(core.AnomalyOutOfOrder, "x")
	}
	cases := []struct {
		name      string
		missing   int64
		anomalies []core.Anomaly
		want      core.Verdict
	}{
		{"clean", 0, nil, core.VerdictPass},
		{"one missing seal beats informational anomalies", 1, many, core.VerdictFail},
		{"missing seal count alone", 1, nil, core.VerdictFail},
		{"chain break", 0, []core.Anomaly{anomaly(core.AnomalyChainBreak, "e")}, core.VerdictFail},
		{"missing seal anomaly", 0, []core.Anomaly{anomaly(core.AnomalyMissingSeal, "e")}, core.VerdictFail},
		{"only informational", 0, many, core.VerdictWarn},
		{"duplicate seal", 0, []core.Anomaly{anomaly(core.AnomalyDuplicateSeal, "e")}, core.VerdictWarn},
	}
	for _, tc := range cases {
		if got := proof.ComputeVerdict(tc.missing, tc.anomalies); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestAggregateIsOrderInsensitive(t *testing.T) {
	t1, t2 := t0, t0.Add(time.Hour)
	parts := []proof.Partial{
		{TerminalEvents: map[string]int64{"quote.accepted": 2}, LastEventAt: &t1},
		{TerminalEvents: map[string]int64{"quote.accepted": 3, "shipment.delivered": 1}, LastEventAt: &t2},
		{SealedPacks: map[string]int64{"quote_acceptance": 4}, LastSealAt: &t1},
		{MissingSeals: 1, Anomalies: []core.Anomaly{anomaly(core.AnomalyMissingSeal, "q9"), anomaly(core.AnomalyDuplicateSeal, "q1")}},
		{ChainLength: 10, ChainHead: "h10", Anomalies: []core.Anomaly{anomaly(core.AnomalyChainBreak, "e3")}},
		{ChainLength: 7, ChainHead: "h7"},
	}
	wantCounters, wantAnomalies := proof.Aggregate(parts)
	if wantCounters.TerminalEvents["quote.accepted"] != 5 || wantCounters.ChainHead != "h10" || !wantCounters.LastEventAt.Equal(t2) {
		t.Fatalf("counters = %+v", wantCounters)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]proof.Partial(nil), parts...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		c, a := proof.Aggregate(shuffled)
		if !reflect.DeepEqual(c, wantCounters) || !reflect.DeepEqual(a, wantAnomalies) {
			t.Fatalf("shuffle %d changed the aggregate", i)
		}
	}
}

func TestGenerateSectionRunsPortsConcurrently(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	port := func(ctx context.Context, tenantID string) (proof.Partial, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if n == 3 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		atomic.AddInt32(&inFlight, -1)
		return proof.Partial{TerminalEvents: map[string]int64{"exam.submitted": 1}}, nil
	}
	section, err := proof.GenerateSection(context.Background(), ring(t), core.SectionExamIntegrity, "t1", []proof.Port{port, port, port}, t0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if atomic.LoadInt32(&peak) != 3 {
		t.Fatalf("ports did not overlap, peak=%d", peak)
	}
	if section.Counters.TerminalEvents["exam.submitted"] != 3 || section.Verdict != core.VerdictPass {
		t.Fatalf("section = %+v", section)
	}
}

func TestGenerateSectionPortError(t *testing.T) {
	failing := func(context.Context, string) (proof.Partial, error) { return proof.Partial{}, errors.New("db down") }
	if _, err := proof.GenerateSection(context.Background(), ring(t), core.SectionExamIntegrity, "t1", []proof.Port{failing}, t0); err == nil {
		t.Fatal("expected error")
	}
}

func TestSectionSignatureRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := ring(t)
	port := func(context.Context, string) (proof.Partial, error) {
		return proof.Partial{MissingSeals: 1, Anomalies: []core.Anomaly{anomaly(core.AnomalyMissingSeal, "q1")}}, nil
	}
	section, err := proof.GenerateSection(ctx, r, core.SectionCommerceEvidence, "t1", []proof.Port{port}, t0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if section.Verdict != core.VerdictFail || section.Signature == "" || section.KeyID != "v1" {
		t.Fatalf("section = %+v", section)
	}
	if !proof.VerifySection(ctx, r, section) {
		t.Fatal("signature did not verify")
	}
	section.Verdict = core.VerdictPass
	if proof.VerifySection(ctx, r, section) {
		t.Fatal("edited verdict verified")
	}
}

func TestDetectAnomalies(t *testing.T) {
	events := []core.AuditEvent{
		{ID: "e1", Action: "quote.accepted", TargetID: "q1", CreatedAt: t0},
		{ID: "e2", Action: "quote.accepted", TargetID: "q2", CreatedAt: t0},
		{ID: "e3", Action: "shipment.delivered", TargetID: "s1", CreatedAt: t0},
		{ID: "e4", Action: "commission.finalized", TargetID: "c1", CreatedAt: t0},
		{ID: "e5", Action: "quote.accepted", TargetID: "q5", CreatedAt: t0},
	}
	packs := []core.EvidencePack{
		{ID: "p1", TriggerEventID: "e1", SubjectID: "q1", EvidenceType: core.EvidenceQuoteAcceptance, Status: core.PackSealed, CreatedAt: t0.Add(time.Second)},
		// e2: none
		{ID: "p3a", TriggerEventID: "e3", SubjectID: "s1", Status: core.PackVerified, CreatedAt: t0.Add(time.Second)},
		{ID: "p3b", TriggerEventID: "e3", SubjectID: "s1", Status: core.PackSealed, CreatedAt: t0.Add(time.Second)},
		{ID: "p4", TriggerEventID: "e4", SubjectID: "c1", Status: core.PackSealed, CreatedAt: t0.Add(-time.Second)},
		// e5 matched by subject and type, but broken
		{ID: "p5", SubjectID: "q5", EvidenceType: core.EvidenceQuoteAcceptance, Status: core.PackBroken, ChainIntegrity: core.ChainBroken, CreatedAt: t0.Add(time.Second)},
	}

	got := proof.DetectAnomalies(events, packs, t0)
	var summary []string
	for _, a := range got {
		summary = append(summary, string(a.Type)+":"+a.SubjectID)
	}
	want := []string{
		"chain_break:q5",
		"duplicate_seal:s1",
		"missing_seal:q2",
		"missing_seal:q5",
		"out_of_order:c1",
	}
	if !reflect.DeepEqual(summary, want) {
		t.Fatalf("anomalies = %v, want %v", summary, want)
	}
}

func TestGeneratorFromStore(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := ring(t)
	l := ledger.New(st, nil)
	b := evidence.NewBuilder(st, st, r, nil)

	sealedEvt, _ := l.Append(ctx, ledger.AppendInput{TenantID: "t1", ActorID: "u", Action: "decision.issued", TargetType: "decision", TargetID: "d1"})
	if _, _, err := b.Build(ctx, evidence.Request{TenantID: "t1", TriggerEventID: sealedEvt.ID}); err != nil {
		t.Fatalf("build: %v", err)
	}
	gen := proof.NewGenerator(st, l, r, nil)

	section, err := gen.Generate(ctx, "t1", core.SectionDecisionLedger)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if section.Verdict != core.VerdictPass || section.Counters.TerminalEvents["decision.issued"] != 1 ||
		section.Counters.SealedPacks["decision_record"] != 1 || section.Counters.ChainLength != 1 {
		t.Fatalf("clean section = %+v", section)
	}

	if _, err := l.Append(ctx, ledger.AppendInput{TenantID: "t1", ActorID: "u", Action: "closure.completed", TargetType: "case", TargetID: "c1"}); err != nil {
		t.Fatal(err)
	}
	section, _ = gen.Generate(ctx, "t1", core.SectionDecisionLedger)
	if section.Verdict != core.VerdictFail || section.Counters.MissingSeals != 1 {
		t.Fatalf("missing seal section = %+v", section)
	}

	other, _ := gen.Generate(ctx, "t1", core.SectionExamIntegrity)
	if other.Verdict != core.VerdictPass {
		t.Fatalf("exam section should ignore decision events: %+v", other)
	}

	_ = st.OverwriteEvent("t1", 1, func(e *core.AuditEvent) { e.TargetID = "d2" })
	broken, _ := gen.Generate(ctx, "t1", core.SectionExamIntegrity)
	if broken.Verdict != core.VerdictFail || len(broken.Anomalies) != 1 || broken.Anomalies[0].Type != core.AnomalyChainBreak {
		t.Fatalf("chain break section = %+v", broken)
	}

	if _, err := gen.Generate(ctx, "t1", "unknown"); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGenerateProofPack(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := ring(t)
	static := func(v string) proof.SignalSource {
		return func(context.Context) (string, error) { return v, nil }
	}
	sources := proof.Sources{
		ContractTestFingerprint: static("fp-1"),
		CIStatus:                static("green"),
		MigrationID:             static("0003"),
		AuditChainDigest:        static("digest"),
		ScanStatus:              static("clean"),
	}
	pp, err := proof.GenerateProofPack(ctx, sources, r, st, t0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !pp.Immutable || pp.Signals.RedTeamSummary != proof.Unavailable || pp.Signals.CIStatus != "green" || len(pp.Payload) == 0 {
		t.Fatalf("proof pack = %+v", pp)
	}
	if !proof.VerifyProofPack(ctx, r, pp) {
		t.Fatal("proof pack did not verify")
	}
	latest, err := st.LatestProofPack(ctx)
	if err != nil || latest.ID != pp.ID {
		t.Fatalf("latest = %+v, %v", latest, err)
	}

	pp.Signals.CIStatus = "red"
	if proof.VerifyProofPack(ctx, r, pp) {
		t.Fatal("edited signal verified")
	}

	sources.ScanStatus = func(context.Context) (string, error) { return "", errors.New("scanner offline") }
	if _, err := proof.GenerateProofPack(ctx, sources, r, st, t0); err == nil {
		t.Fatal("expected signal error")
	}
}
