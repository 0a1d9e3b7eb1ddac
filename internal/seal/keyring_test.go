package seal

import (
	"context"
	"testing"

	"github.com/lzjever/ledgerseal/internal/core"
)

func testKeyring(t *testing.T) *Keyring {
	t.Helper()
	ring, err := NewKeyring(map[string][]byte{"v1": []byte("secret"), "v2": []byte("other")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return ring
}

func TestNewKeyringValidation(t *testing.T) {
	if _, err := NewKeyring(nil, "v1"); err == nil {
		t.Fatal("expected error for missing keys")
	}
	if _, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, ""); err == nil {
		t.Fatal("expected error for missing active key id")
	}
	if _, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v2"); err == nil {
		t.Fatal("expected error for unknown active key id")
	}
	if _, err := NewKeyring(map[string][]byte{"v1": nil}, "v1"); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestParseKeySpec(t *testing.T) {
	keys, err := ParseKeySpec(" v1=alpha , v2=beta=gamma,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(keys["v1"]) != "alpha" || string(keys["v2"]) != "beta=gamma" {
		t.Fatalf("keys = %v", keys)
	}

	for _, bad := range []string{"", "v1", "=secret", "v1=", "v1=a,v1=b"} {
		if _, err := ParseKeySpec(bad); err == nil {
			t.Errorf("ParseKeySpec(%q): expected error", bad)
		}
	}
}

func TestKeyringFromConfig(t *testing.T) {
	ring, err := KeyringFromConfig("", "single", "v1")
	if err != nil {
		t.Fatalf("single key: %v", err)
	}
	if ring.ActiveKeyID() != "v1" {
		t.Fatalf("active = %s", ring.ActiveKeyID())
	}

	ring, err = KeyringFromConfig("old=a,new=b", "ignored", "new")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ring.KeyIDs(); len(got) != 2 || got[0] != "new" || got[1] != "old" {
		t.Fatalf("key ids = %v", got)
	}

	if _, err := KeyringFromConfig("", "", "v1"); err == nil {
		t.Fatal("expected error with no key")
	}
}

func TestKeyringSignAndVerify(t *testing.T) {
	ctx := context.Background()
	ring := testKeyring(t)

	env, err := ring.Sign(ctx, "t1", []byte("payload"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if env.KeyID != "v1" || len(env.Signature) != 64 {
		t.Fatalf("envelope = %+v", env)
	}

	ok, err := ring.Verify(ctx, "t1", []byte("payload"), env)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v", ok, err)
	}

	cases := map[string]struct {
		tenant  string
		payload string
		env     core.SealEnvelope
	}{
		"other tenant":   {"t2", "payload", env},
		"other payload":  {"t1", "payload!", env},
		"other key id":   {"t1", "payload", core.SealEnvelope{Signature: env.Signature, KeyID: "v2"}},
		"unknown key id": {"t1", "payload", core.SealEnvelope{Signature: env.Signature, KeyID: "v9"}},
		"bad signature":  {"t1", "payload", core.SealEnvelope{Signature: "bad", KeyID: "v1"}},
	}
	for name, tc := range cases {
		ok, err := ring.Verify(ctx, tc.tenant, []byte(tc.payload), tc.env)
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if ok {
			t.Errorf("%s: verified", name)
		}
	}
}

func TestKeyringRequiresTenant(t *testing.T) {
	ring := testKeyring(t)
	_, err := ring.Sign(context.Background(), " ", []byte("x"))
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestKeyringRotationKeepsOldSignaturesVerifiable(t *testing.T) {
	ctx := context.Background()
	old, _ := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	env, err := old.Sign(ctx, "t1", []byte("p"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rotated, _ := NewKeyring(map[string][]byte{"v1": []byte("secret"), "v2": []byte("fresh")}, "v2")
	ok, err := rotated.Verify(ctx, "t1", []byte("p"), env)
	if err != nil || !ok {
		t.Fatalf("rotated verify = %v, %v", ok, err)
	}
}
