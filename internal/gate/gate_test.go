package gate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

var fixture = map[string]string{
	"internal/core/canonical.go":   "package core\n\nfunc CanonicalJSON(v any) ([]byte, error) { return nil, nil }\n\nfunc Hash(v any) (string, error) { return \"\", nil }\n",
	"internal/ledger/chain.go":     "package ledger\n\nfunc ComputeEventHash() {}\n\nfunc VerifyChain() bool { return true }\n",
	"internal/ledger/audited.go":   "package ledger\n\nfunc write(r interface{ InsertRow() }) { r.InsertRow() }\n",
	"internal/evidence/pack.go":    "package evidence\n\nfunc MerkleRoot() {}\n\nfunc BuildPack() {}\n",
	"internal/seal/seal.go":        "package seal\n\nfunc SealPack() {}\n\nfunc VerifySeal() {}\n",
	"internal/proof/section.go":    "package proof\n\nfunc GenerateSection() {}\n\nfunc ComputeVerdict() {}\n\nfunc GenerateProofPack() {}\n",
	"internal/api/handler_test.go": "package api\n\nfunc helper(r interface{ DeleteRow() }) { r.DeleteRow() }\n",
	"migrations/0001.sql": `-- +migrate Up
CREATE TABLE audit_events (
    event_id      TEXT PRIMARY KEY,
    hash          TEXT NOT NULL,
    previous_hash TEXT NOT NULL
);
CREATE TABLE evidence_artifacts (
    pack_id TEXT NOT NULL
);
CREATE TABLE governance_proof_packs (
    proof_pack_id TEXT PRIMARY KEY
);
CREATE TRIGGER a BEFORE UPDATE OR DELETE ON audit_events FOR EACH ROW EXECUTE FUNCTION reject();
CREATE TRIGGER b BEFORE UPDATE ON evidence_artifacts BEGIN SELECT RAISE(ABORT, 'no'); END;
CREATE TRIGGER c BEFORE DELETE ON evidence_artifacts BEGIN SELECT RAISE(ABORT, 'no'); END;
CREATE TRIGGER d BEFORE UPDATE OR DELETE ON governance_proof_packs FOR EACH ROW EXECUTE FUNCTION reject();
-- +migrate Down
DROP TABLE audit_events;
`,
	"_vendored/bad.go": "package bad\n\nfunc x(r interface{ InsertRow() }) { r.InsertRow() }\n",
}

func writeFixture(t *testing.T, overrides map[string]string) string {
	t.Helper()
	root := t.TempDir()
	files := make(map[string]string, len(fixture))
	for k, v := range fixture {
		files[k] = v
	}
	for k, v := range overrides {
		if v == "" {
			delete(files, k)
			continue
		}
		files[k] = v
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func run(t *testing.T, root string) Report {
	t.Helper()
	report, err := Run(context.Background(), root, DefaultChecks())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return report
}

func TestFixturePasses(t *testing.T) {
	report := run(t, writeFixture(t, nil))
	if !report.Authorized() {
		var buf bytes.Buffer
		_ = WriteText(&buf, report)
		t.Fatalf("expected authorized:\n%s", buf.String())
	}
	if len(report.Results) != 8 || report.Results[3].ID != "EVIDENCE-SEALING" {
		t.Fatalf("unexpected check order: %+v", report.Results)
	}
}

func TestMissingVerifySealFailsOnlySealing(t *testing.T) {
	root := writeFixture(t, map[string]string{
		"internal/seal/seal.go": "package seal\n\nfunc SealPack() {}\n",
	})
	report := run(t, root)
	failed := report.Failed()
	if len(failed) != 1 || failed[0] != "EVIDENCE-SEALING" {
		t.Fatalf("failed = %v", failed)
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, report); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"[FAIL] EVIDENCE-SEALING", "VerifySeal", "7 passed, 1 failed", "deployment blocked: EVIDENCE-SEALING"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMethodDoesNotSatisfyExport(t *testing.T) {
	root := writeFixture(t, map[string]string{
		"internal/core/canonical.go": "package core\n\ntype H struct{}\n\nfunc (H) Hash() {}\n\nfunc CanonicalJSON() {}\n",
	})
	failed := run(t, root).Failed()
	if len(failed) != 1 || failed[0] != "CANONICAL-HASHER" {
		t.Fatalf("failed = %v", failed)
	}
}

func TestUnauditedWriteFails(t *testing.T) {
	root := writeFixture(t, map[string]string{
		"internal/api/rows.go": "package api\n\nfunc save(r interface{ UpdateRow() }) { r.UpdateRow() }\n",
	})
	report := run(t, root)
	failed := report.Failed()
	if len(failed) != 1 || failed[0] != "AUDITED-WRITES" {
		t.Fatalf("failed = %v", failed)
	}
	if !strings.Contains(report.Results[7].Detail, "internal/api/rows.go:3") {
		t.Fatalf("detail = %s", report.Results[7].Detail)
	}
}

func TestMissingDeleteTriggerFails(t *testing.T) {
	sql := strings.Replace(fixture["migrations/0001.sql"],
		"CREATE TRIGGER c BEFORE DELETE ON evidence_artifacts BEGIN SELECT RAISE(ABORT, 'no'); END;\n", "", 1)
	report := run(t, writeFixture(t, map[string]string{"migrations/0001.sql": sql}))
	failed := report.Failed()
	if len(failed) != 1 || failed[0] != "IMMUTABILITY-TRIGGER" {
		t.Fatalf("failed = %v", failed)
	}
	if !strings.Contains(report.Results[6].Detail, "evidence_artifacts has no DELETE trigger") {
		t.Fatalf("detail = %s", report.Results[6].Detail)
	}
}

func TestMissingHashColumnFails(t *testing.T) {
	sql := strings.Replace(fixture["migrations/0001.sql"], "    previous_hash TEXT NOT NULL\n", "    prev TEXT NOT NULL\n", 1)
	failed := run(t, writeFixture(t, map[string]string{"migrations/0001.sql": sql})).Failed()
	if len(failed) != 1 || failed[0] != "APPEND-ONLY-COLUMNS" {
		t.Fatalf("failed = %v", failed)
	}
}

func TestEmptyTreeBlocks(t *testing.T) {
	report := run(t, t.TempDir())
	if report.Authorized() || len(report.Failed()) != 8 {
		t.Fatalf("expected every check to fail, got %v", report.Failed())
	}
}

func TestRunRejectsMissingRoot(t *testing.T) {
	if _, err := Run(context.Background(), filepath.Join(t.TempDir(), "nope"), DefaultChecks()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRepositoryPasses(t *testing.T) {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve current file")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", ".."))
	report := run(t, root)
	if !report.Authorized() {
		var buf bytes.Buffer
		_ = WriteText(&buf, report)
		t.Fatalf("repository does not pass its own gate:\n%s", buf.String())
	}
}
