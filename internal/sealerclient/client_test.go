package sealerclient

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/evidence"
	"github.com/lzjever/ledgerseal/internal/seal"
	"github.com/lzjever/ledgerseal/internal/sealer"
)

func startSealer(t *testing.T, ring *seal.Keyring) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(sealer.MetricsInterceptor))
	sealer.RegisterSealerServiceServer(srv, sealer.NewServer(sealer.Config{}, ring, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := NewFromConn(conn, 5*time.Second)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testRing(t *testing.T) *seal.Keyring {
	t.Helper()
	ring, err := seal.NewKeyring(map[string][]byte{"v1": []byte("remote-secret")}, "v1")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return ring
}

func TestRemoteSignMatchesLocal(t *testing.T) {
	ctx := context.Background()
	ring := testRing(t)
	client := startSealer(t, ring)

	payload := []byte(`{"a":1,"b":[true,null]}`)
	remote, err := client.Sign(ctx, "t1", payload)
	if err != nil {
		t.Fatalf("remote sign: %v", err)
	}
	local, _ := ring.Sign(ctx, "t1", payload)
	if remote != local {
		t.Fatalf("remote %+v != local %+v", remote, local)
	}

	ok, err := client.Verify(ctx, "t1", payload, remote)
	if err != nil || !ok {
		t.Fatalf("verify = %v (%v)", ok, err)
	}
	ok, err = client.Verify(ctx, "t1", []byte(`{"a":2}`), remote)
	if err != nil || ok {
		t.Fatalf("tampered payload verified: %v (%v)", ok, err)
	}
}

func TestRemoteSealsPack(t *testing.T) {
	ctx := context.Background()
	ring := testRing(t)
	client := startSealer(t, ring)

	pack, err := evidence.BuildPack(ctx, client, evidence.BuildRequest{
		TenantID:     "t1",
		EvidenceType: core.EvidenceExamSubmission,
		SubjectID:    "exam-1",
		Artifacts:    []evidence.ArtifactInput{{Name: "answers", Payload: []byte(`{"q1":"b"}`)}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if v, err := seal.VerifySeal(ctx, ring, pack); err != nil || !v.Valid {
		t.Fatalf("locally verified remote seal failed: %+v", v)
	}
	if v, err := seal.VerifySeal(ctx, client, pack); err != nil || !v.Valid {
		t.Fatalf("remote verification failed: %+v", v)
	}
}

func TestRemoteRejectsMissingTenant(t *testing.T) {
	client := startSealer(t, testRing(t))
	if _, err := client.Sign(context.Background(), "", []byte("x")); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
