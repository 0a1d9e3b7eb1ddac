package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/evidence"
	"github.com/lzjever/ledgerseal/internal/proof"
	"github.com/lzjever/ledgerseal/internal/seal"
	"github.com/lzjever/ledgerseal/internal/sealerclient"
	"github.com/lzjever/ledgerseal/internal/store/memstore"
)

func newTestAPI(t *testing.T) (http.Handler, *memstore.Store) {
	t.Helper()
	ring, err := seal.NewKeyring(map[string][]byte{"v1": []byte("test-secret")}, "v1")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	st := memstore.New()
	return NewAPI(st, ring, proof.Sources{}, nil).Router(), st
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func appendEvent(t *testing.T, h http.Handler, tenant, action, target string) core.AuditEvent {
	t.Helper()
	w := do(t, h, "POST", "/v1/tenants/"+tenant+"/events", map[string]any{
		"actor_id":    "user-1",
		"action":      action,
		"target_type": "subject",
		"target_id":   target,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("append: %d %s", w.Code, w.Body.String())
	}
	return decode[core.AuditEvent](t, w)
}

func TestHealthHandler(t *testing.T) {
	api := &API{}
	r := chi.NewRouter()
	r.Get("/healthz", api.HealthHandler)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("expected body OK, got %s", w.Body.String())
	}
}

func TestReadyHandler(t *testing.T) {
	h, _ := newTestAPI(t)
	w := do(t, h, "GET", "/readyz", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, core.NewAppError(core.ErrBadRequest, "test error"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	resp := decode[ErrorResponse](t, w)
	if resp.Code != "LEDGER_BAD_REQUEST" {
		t.Errorf("expected code LEDGER_BAD_REQUEST, got %s", resp.Code)
	}
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err  error
		code core.ErrorCode
	}{
		{core.Invalid("actor_id", "required"), core.ErrBadRequest},
		{fmt.Errorf("get: %w", core.ErrRecordNotFound), core.ErrNotFound},
		{core.ErrIdempotencyConflict, core.ErrConflictIdempotent},
		{fmt.Errorf("append: %w", core.ErrChainConflict), core.ErrConflictChain},
		{core.ErrAppendOnly, core.ErrImmutable},
		{fmt.Errorf("sign: %w", sealerclient.ErrTimeout), core.ErrSealerTimeout},
		{fmt.Errorf("sign: %w", sealerclient.ErrUnavailable), core.ErrSealerError},
		{core.NewAppError(core.ErrPreconditionFailed, "x"), core.ErrPreconditionFailed},
		{errors.New("boom"), core.ErrInternal},
	}
	for _, c := range cases {
		if got := ToAppError(c.err).Code; got != c.code {
			t.Errorf("ToAppError(%v) = %s, want %s", c.err, got, c.code)
		}
	}
	if msg := ToAppError(errors.New("password=hunter2")).Message; msg != "internal error" {
		t.Errorf("internal message leaked: %q", msg)
	}
}

func TestRejectsNonJSONContentType(t *testing.T) {
	h, _ := newTestAPI(t)
	req := httptest.NewRequest("POST", "/v1/tenants/t1/events", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestEventsAndChain(t *testing.T) {
	h, _ := newTestAPI(t)
	first := appendEvent(t, h, "t1", "order.created", "o1")
	second := appendEvent(t, h, "t1", "order.updated", "o1")
	if first.PreviousHash != core.GenesisHash || second.PreviousHash != first.Hash {
		t.Fatalf("chain not linked: %+v %+v", first, second)
	}
	if first.CorrelationID == "" {
		t.Fatal("correlation id should default to the request id")
	}

	w := do(t, h, "GET", "/v1/tenants/t1/chain", nil, nil)
	head := decode[core.ChainHead](t, w)
	if head.Seq != 2 || head.Hash != second.Hash {
		t.Fatalf("head = %+v", head)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/events?after_seq=1&limit=10", nil, nil)
	page := decode[struct {
		Events []core.AuditEvent `json:"events"`
	}](t, w)
	if len(page.Events) != 1 || page.Events[0].ID != second.ID {
		t.Fatalf("page = %+v", page.Events)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/events/"+first.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get event: %d", w.Code)
	}
	w = do(t, h, "GET", "/v1/tenants/t2/events/"+first.ID, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant get should be 404, got %d", w.Code)
	}

	w = do(t, h, "POST", "/v1/tenants/t1/chain:verify", nil, nil)
	res := decode[core.ChainVerification](t, w)
	if !res.Valid || res.EventsChecked != 2 {
		t.Fatalf("verify = %+v", res)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/events?after_seq=-1", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative after_seq: %d", w.Code)
	}
}

func TestVerifyChainReportsTampering(t *testing.T) {
	h, st := newTestAPI(t)
	appendEvent(t, h, "t1", "order.created", "o1")
	appendEvent(t, h, "t1", "order.updated", "o1")
	_ = st.OverwriteEvent("t1", 1, func(e *core.AuditEvent) { e.ActorID = "mallory" })

	w := do(t, h, "POST", "/v1/tenants/t1/chain:verify", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d", w.Code)
	}
	res := decode[core.ChainVerification](t, w)
	if res.Valid || res.BrokenAt != 1 {
		t.Fatalf("expected break at 1, got %+v", res)
	}
}

func TestAppendValidation(t *testing.T) {
	h, _ := newTestAPI(t)
	w := do(t, h, "POST", "/v1/tenants/t1/events", map[string]any{"action": "x", "target_type": "y"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing actor: %d", w.Code)
	}
	w = do(t, h, "POST", "/v1/tenants/t1/events", "{not json", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", w.Code)
	}
	w = do(t, h, "POST", "/v1/tenants/t1/events", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty body: %d", w.Code)
	}
}

func TestPackLifecycle(t *testing.T) {
	h, _ := newTestAPI(t)
	trigger := appendEvent(t, h, "t1", "exam.submitted", "exam-1")

	body := map[string]any{
		"trigger_event_id": trigger.ID,
		"artifacts": []map[string]any{
			{"name": "answers", "payload": map[string]any{"q1": "b"}},
			{"name": "proctor.mp4", "sha256": "aa11"},
		},
		"include_audit_trail": true,
	}
	key := map[string]string{IdempotencyKeyHeader: "k-1"}

	w := do(t, h, "POST", "/v1/tenants/t1/packs", body, key)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	pack := decode[core.EvidencePack](t, w)
	if pack.Status != core.PackSealed || pack.EvidenceType != core.EvidenceExamSubmission || len(pack.Artifacts) != 3 {
		t.Fatalf("pack = %+v", pack)
	}

	w = do(t, h, "POST", "/v1/tenants/t1/packs", body, key)
	if w.Code != http.StatusOK || w.Header().Get(ReplayedHeader) != "true" {
		t.Fatalf("replay: %d %v", w.Code, w.Header())
	}
	if replay := decode[core.EvidencePack](t, w); replay.ID != pack.ID {
		t.Fatalf("replay returned %s, want %s", replay.ID, pack.ID)
	}

	body["include_audit_trail"] = false
	w = do(t, h, "POST", "/v1/tenants/t1/packs", body, key)
	if w.Code != http.StatusConflict || decode[ErrorResponse](t, w).Code != string(core.ErrConflictIdempotent) {
		t.Fatalf("conflict: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, "POST", "/v1/tenants/t1/packs/"+pack.ID+":verify", nil, nil)
	verified := decode[VerifyPackResponse](t, w)
	if !verified.Valid || !verified.DigestMatch || !verified.SignatureVerified || verified.Status != core.PackVerified || verified.ChainIntegrity != core.ChainOK {
		t.Fatalf("verify = %+v", verified)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/packs?status=verified", nil, nil)
	list := decode[struct {
		Packs []core.EvidencePack `json:"packs"`
	}](t, w)
	if len(list.Packs) != 1 || list.Packs[0].ID != pack.ID {
		t.Fatalf("list = %+v", list.Packs)
	}
	w = do(t, h, "GET", "/v1/tenants/t1/packs?status=sealed", nil, nil)
	if list := decode[struct {
		Packs []core.EvidencePack `json:"packs"`
	}](t, w); len(list.Packs) != 0 {
		t.Fatalf("sealed filter = %+v", list.Packs)
	}
	w = do(t, h, "GET", "/v1/tenants/t1/packs?status=bogus", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status: %d", w.Code)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/packs/"+pack.ID+"/export", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d", w.Code)
	}
	if bundle := decode[evidence.Bundle](t, w); !evidence.VerifyBundle(bundle) {
		t.Fatal("exported bundle does not verify")
	}

	w = do(t, h, "GET", "/v1/tenants/t1/sections/exam_integrity", nil, nil)
	section := decode[core.ProofSection](t, w)
	if section.Verdict != core.VerdictPass || section.Signature == "" {
		t.Fatalf("section = %+v", section)
	}
}

func TestTamperedPackIsBroken(t *testing.T) {
	h, st := newTestAPI(t)
	w := do(t, h, "POST", "/v1/tenants/t1/packs", map[string]any{
		"evidence_type": "closure_record",
		"subject_id":    "c1",
		"artifacts":     []map[string]any{{"name": "memo", "payload": "signed"}},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	pack := decode[core.EvidencePack](t, w)

	_ = st.OverwritePack(pack.ID, func(p *core.EvidencePack) { p.SubjectID = "c2" })

	w = do(t, h, "POST", "/v1/tenants/t1/packs/"+pack.ID+":verify", nil, nil)
	res := decode[VerifyPackResponse](t, w)
	if res.Valid || res.DigestMatch || res.Status != core.PackBroken {
		t.Fatalf("verify tampered = %+v", res)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/packs/"+pack.ID+"/export", nil, nil)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("export broken pack: %d", w.Code)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/packs/missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing pack: %d", w.Code)
	}
}

func TestSectionFlagsMissingSeal(t *testing.T) {
	h, _ := newTestAPI(t)
	appendEvent(t, h, "t1", "shipment.delivered", "s1")

	w := do(t, h, "GET", "/v1/tenants/t1/sections/commerce_evidence", nil, nil)
	section := decode[core.ProofSection](t, w)
	if section.Verdict != core.VerdictFail || section.Counters.MissingSeals != 1 {
		t.Fatalf("section = %+v", section)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/sections/astrology", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown section: %d", w.Code)
	}
}

func TestGovernanceProofPack(t *testing.T) {
	h, _ := newTestAPI(t)
	w := do(t, h, "GET", "/v1/governance/proof-packs/latest", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("latest before create: %d", w.Code)
	}

	w = do(t, h, "POST", "/v1/governance/proof-packs", nil, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	created := decode[ProofPackResponse](t, w)
	if !created.Verified || !created.Immutable || created.Signals.CIStatus != proof.Unavailable {
		t.Fatalf("created = %+v", created)
	}

	w = do(t, h, "GET", "/v1/governance/proof-packs/latest", nil, nil)
	latest := decode[ProofPackResponse](t, w)
	if latest.ID != created.ID || !latest.Verified {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestRowsAreAudited(t *testing.T) {
	h, st := newTestAPI(t)
	actor := map[string]string{ActorIDHeader: "admin-1", ActorRoleHeader: "admin"}

	w := do(t, h, "PUT", "/v1/tenants/t1/rows/courses/c1", map[string]any{"title": "Go"}, actor)
	if w.Code != http.StatusCreated {
		t.Fatalf("insert: %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, "PUT", "/v1/tenants/t1/rows/courses/c1", map[string]any{"title": "Go 2"}, actor)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	updated := decode[RowWriteResponse](t, w)
	if updated.Event.Action != "courses.updated" || string(updated.Event.Before) != `{"title":"Go"}` {
		t.Fatalf("update event = %+v", updated.Event)
	}

	w = do(t, h, "GET", "/v1/tenants/t1/rows/courses/c1", nil, nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"title":"Go 2"}` {
		t.Fatalf("read: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, "DELETE", "/v1/tenants/t1/rows/courses/c1", nil, actor)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	w = do(t, h, "GET", "/v1/tenants/t1/rows/courses/c1", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("read deleted: %d", w.Code)
	}

	w = do(t, h, "PUT", "/v1/tenants/t1/rows/courses/c2", map[string]any{"title": "x"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing actor: %d", w.Code)
	}

	events, err := st.ListEvents(context.Background(), "t1", 0, 10)
	if err != nil || len(events) != 3 {
		t.Fatalf("expected 3 audit events, got %d (%v)", len(events), err)
	}
	want := []string{"courses.created", "courses.updated", "courses.deleted"}
	for i, e := range events {
		if e.Action != want[i] || e.ActorID != "admin-1" {
			t.Fatalf("event %d = %s by %s", i, e.Action, e.ActorID)
		}
	}
}
