package signals

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lzjever/ledgerseal/internal/ledger"
	"github.com/lzjever/ledgerseal/internal/store/memstore"
)

func TestFileSignals(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "ci")
	if err := os.WriteFile(path, []byte("  green \nbuild 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, err := File(path)(ctx); err != nil || got != "green" {
		t.Fatalf("File = %q, %v", got, err)
	}
	if got, _ := File(filepath.Join(dir, "nope"))(ctx); got != Missing {
		t.Fatalf("missing file = %q", got)
	}
	d1, _ := FileDigest(path)(ctx)
	if len(d1) != 64 {
		t.Fatalf("digest = %q", d1)
	}
}

func TestDirFingerprintTracksContent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{}`), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "sub", "b.json"), []byte(`[]`), 0o644)

	first, err := DirFingerprint(dir)(ctx)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	again, _ := DirFingerprint(dir)(ctx)
	if first != again {
		t.Fatal("fingerprint not stable")
	}
	_ = os.WriteFile(filepath.Join(dir, "sub", "b.json"), []byte(`[1]`), 0o644)
	changed, _ := DirFingerprint(dir)(ctx)
	if changed == first {
		t.Fatal("content change kept fingerprint")
	}
	if got, _ := DirFingerprint(filepath.Join(dir, "absent"))(ctx); got != Missing {
		t.Fatalf("absent dir = %q", got)
	}
}

func TestStoreSignals(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := ledger.New(st, nil)

	empty, err := AuditChainDigest(st)(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, ledger.AppendInput{TenantID: "t1", ActorID: "u", Action: "a", TargetType: "x"}); err != nil {
		t.Fatal(err)
	}
	after, _ := AuditChainDigest(st)(ctx)
	if after == empty {
		t.Fatal("append did not change the audit digest")
	}
	if id, _ := MigrationID(st)(ctx); id != memstore.MigrationID {
		t.Fatalf("migration = %q", id)
	}
}

func TestSourcesWiring(t *testing.T) {
	s := Sources(Config{CIStatus: "green", CIStatusFile: "/ignored"}, memstore.New())
	if s.MigrationID == nil || s.AuditChainDigest == nil || s.CIStatus == nil {
		t.Fatal("store and ci signals not wired")
	}
	if s.ScanStatus != nil || s.RedTeamSummary != nil || s.ContractTestFingerprint != nil {
		t.Fatal("unconfigured signals wired")
	}
	if got, _ := s.CIStatus(context.Background()); got != "green" {
		t.Fatalf("ci = %q", got)
	}
}
