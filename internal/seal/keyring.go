package seal

import (
	"context"
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/lzjever/ledgerseal/internal/core"
)

// Keyring holds root HMAC keys by id and the id used for new signatures.
// Each tenant signs with a key derived from the root key, so a signature
// for one tenant never verifies for another.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

// NewKeyring constructs a keyring for HMAC signing and verification.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active hmac key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active hmac key id %q is not configured", activeKeyID)
	}
	for id, key := range keys {
		if len(key) == 0 {
			return nil, fmt.Errorf("hmac key %q is empty", id)
		}
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// ParseKeySpec parses "id=secret,id=secret" into a key map.
func ParseKeySpec(raw string) (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid hmac key entry %q", part)
		}
		if _, dup := keys[id]; dup {
			return nil, fmt.Errorf("duplicate hmac key id %q", id)
		}
		keys[id] = []byte(secret)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac key list is empty")
	}
	return keys, nil
}

// KeyringFromConfig builds a keyring from a multi-key list, falling back to a
// single secret registered under activeKeyID.
func KeyringFromConfig(keySpec, singleKey, activeKeyID string) (*Keyring, error) {
	if strings.TrimSpace(keySpec) != "" {
		keys, err := ParseKeySpec(keySpec)
		if err != nil {
			return nil, err
		}
		return NewKeyring(keys, activeKeyID)
	}
	if singleKey == "" {
		return nil, fmt.Errorf("no hmac signing key configured")
	}
	return NewKeyring(map[string][]byte{activeKeyID: []byte(singleKey)}, activeKeyID)
}

// ActiveKeyID returns the configured signing key id.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// KeyIDs returns every configured key id, sorted.
func (k *Keyring) KeyIDs() []string {
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sign computes the HMAC-SHA256 of payload with the tenant's active key.
func (k *Keyring) Sign(_ context.Context, tenantID string, payload []byte) (core.SealEnvelope, error) {
	if k == nil {
		return core.SealEnvelope{}, fmt.Errorf("hmac keyring is not configured")
	}
	key, err := deriveTenantKey(k.keys[k.activeKeyID], tenantID)
	if err != nil {
		return core.SealEnvelope{}, err
	}
	return core.SealEnvelope{Signature: hmacSHA256Hex(key, payload), KeyID: k.activeKeyID}, nil
}

// Verify recomputes the signature with the envelope's key id and compares it
// in constant time. An unknown key id is a failed verification, not an error.
func (k *Keyring) Verify(_ context.Context, tenantID string, payload []byte, env core.SealEnvelope) (bool, error) {
	if k == nil {
		return false, fmt.Errorf("hmac keyring is not configured")
	}
	rootKey, ok := k.keys[strings.TrimSpace(env.KeyID)]
	if !ok {
		return false, nil
	}
	key, err := deriveTenantKey(rootKey, tenantID)
	if err != nil {
		return false, err
	}
	expected := hmacSHA256Hex(key, payload)
	return hmac.Equal([]byte(expected), []byte(env.Signature)), nil
}

func deriveTenantKey(rootKey []byte, tenantID string) ([]byte, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, core.Invalid("tenant_id", "required")
	}
	key, err := hkdf.Key(sha256.New, rootKey, nil, "tenant:"+tenantID, 32)
	if err != nil {
		return nil, fmt.Errorf("derive tenant key: %w", err)
	}
	return key, nil
}

func hmacSHA256Hex(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
