// Package seal signs canonical payloads with a keyed HMAC and verifies
// sealed evidence packs and proof sections.
package seal

import (
	"context"
	"fmt"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/merkle"
	"github.com/lzjever/ledgerseal/internal/observability"
)

// Sealer signs and verifies canonical byte sequences for a tenant. The
// in-process Keyring and the remote seal client both implement it.
type Sealer interface {
	Sign(ctx context.Context, tenantID string, payload []byte) (core.SealEnvelope, error)
	Verify(ctx context.Context, tenantID string, payload []byte, env core.SealEnvelope) (bool, error)
}

// SealPack canonicalizes index, returns its digest and signs the canonical
// bytes. The digest is Hash(index).
func SealPack(ctx context.Context, s Sealer, index core.PackIndex) (string, core.SealEnvelope, error) {
	payload, err := core.CanonicalJSON(index)
	if err != nil {
		return "", core.SealEnvelope{}, fmt.Errorf("canonicalize pack index: %w", err)
	}
	env, err := s.Sign(ctx, index.TenantID, payload)
	if err != nil {
		return "", core.SealEnvelope{}, fmt.Errorf("sign pack index: %w", err)
	}
	return core.HashBytes(payload), env, nil
}

// VerifySeal recomputes the Merkle root, the pack digest and the signature of
// a stored pack and reports each check separately. Integrity failures are
// reported in the result; an error means the signature could not be checked
// at all, and the result then says nothing about the pack.
func VerifySeal(ctx context.Context, s Sealer, pack core.EvidencePack) (core.SealVerification, error) {
	var res core.SealVerification

	res.MerkleMatch = merkleMatches(pack)

	payload, err := core.CanonicalJSON(pack.Index())
	if err == nil {
		res.DigestMatch = core.HashBytes(payload) == pack.PackDigest
		ok, verr := s.Verify(ctx, pack.TenantID, payload, pack.Seal)
		if verr != nil {
			observability.SealVerifyTotal.WithLabelValues("error").Inc()
			return core.SealVerification{}, fmt.Errorf("verify pack signature: %w", verr)
		}
		res.SignatureVerified = ok
	}
	res.Valid = res.MerkleMatch && res.DigestMatch && res.SignatureVerified

	result := "valid"
	if !res.Valid {
		result = "invalid"
	}
	observability.SealVerifyTotal.WithLabelValues(result).Inc()
	return res, nil
}

// merkleMatches checks the stored root against the artifact digests, and each
// inline payload against its recorded digest.
func merkleMatches(pack core.EvidencePack) bool {
	digests := make([]string, len(pack.Artifacts))
	for i, a := range pack.Artifacts {
		if len(a.Payload) > 0 {
			h, err := core.Hash(a.Payload)
			if err != nil || h != a.SHA256 {
				return false
			}
		}
		digests[i] = a.SHA256
	}
	return merkle.Root(digests) == pack.MerkleRoot
}

// SignPayload canonicalizes v and signs it.
func SignPayload(ctx context.Context, s Sealer, tenantID string, v any) (core.SealEnvelope, error) {
	payload, err := core.CanonicalJSON(v)
	if err != nil {
		return core.SealEnvelope{}, fmt.Errorf("canonicalize payload: %w", err)
	}
	return s.Sign(ctx, tenantID, payload)
}

// VerifyPayload canonicalizes v and checks env against it.
func VerifyPayload(ctx context.Context, s Sealer, tenantID string, v any, env core.SealEnvelope) bool {
	payload, err := core.CanonicalJSON(v)
	if err != nil {
		return false
	}
	ok, err := s.Verify(ctx, tenantID, payload, env)
	return err == nil && ok
}
