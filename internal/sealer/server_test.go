package sealer

import (
	"context"
	"encoding/base64"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lzjever/ledgerseal/internal/seal"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ring, err := seal.NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return NewServer(Config{MaxPayloadBytes: 16}, ring, nil)
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestSignThenVerify(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	payload := base64.StdEncoding.EncodeToString([]byte(`{"a":1}`))

	signed, err := srv.Sign(ctx, request(t, map[string]any{FieldTenantID: "t1", FieldPayload: payload}))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig := signed.GetFields()[FieldSignature].GetStringValue()
	if sig == "" || signed.GetFields()[FieldKeyID].GetStringValue() != "v1" {
		t.Fatalf("signed = %v", signed)
	}

	verified, err := srv.Verify(ctx, request(t, map[string]any{
		FieldTenantID: "t1", FieldPayload: payload, FieldSignature: sig, FieldKeyID: "v1",
	}))
	if err != nil || !verified.GetFields()[FieldValid].GetBoolValue() {
		t.Fatalf("verify = %v (%v)", verified, err)
	}

	other, err := srv.Verify(ctx, request(t, map[string]any{
		FieldTenantID: "t2", FieldPayload: payload, FieldSignature: sig, FieldKeyID: "v1",
	}))
	if err != nil || other.GetFields()[FieldValid].GetBoolValue() {
		t.Fatalf("signature must not verify for another tenant: %v (%v)", other, err)
	}
}

func TestSignRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	cases := map[string]map[string]any{
		"missing tenant": {FieldPayload: ""},
		"bad base64":     {FieldTenantID: "t1", FieldPayload: "!!"},
		"too large":      {FieldTenantID: "t1", FieldPayload: base64.StdEncoding.EncodeToString(make([]byte, 17))},
	}
	for name, fields := range cases {
		_, err := srv.Sign(ctx, request(t, fields))
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("%s: code = %v", name, status.Code(err))
		}
	}
}
