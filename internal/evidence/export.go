package evidence

import (
	"encoding/json"
	"fmt"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/merkle"
)

// Bundle is the downloadable form of a sealed pack. It carries the exact
// canonical index the seal covers and an inclusion proof per artifact, so a
// holder of the signing key can verify it offline.
type Bundle struct {
	Pack           core.EvidencePack             `json:"pack"`
	CanonicalIndex string                        `json:"canonical_index"`
	Proofs         map[string][]merkle.ProofStep `json:"proofs"`
}

// Export assembles the bundle for a stored pack.
func Export(pack core.EvidencePack) (Bundle, error) {
	index, err := core.CanonicalJSON(pack.Index())
	if err != nil {
		return Bundle{}, fmt.Errorf("canonicalize index: %w", err)
	}
	digests := make([]string, len(pack.Artifacts))
	for i, a := range pack.Artifacts {
		digests[i] = a.SHA256
	}
	proofs := make(map[string][]merkle.ProofStep, len(digests))
	for i, a := range pack.Artifacts {
		steps, err := merkle.Proof(digests, i)
		if err != nil {
			return Bundle{}, err
		}
		if steps == nil {
			steps = []merkle.ProofStep{}
		}
		proofs[a.Name] = steps
	}
	return Bundle{Pack: pack, CanonicalIndex: string(index), Proofs: proofs}, nil
}

// VerifyBundle checks that every artifact proof resolves to the pack root and
// that the canonical index matches the pack digest. It does not check the
// seal signature.
func VerifyBundle(b Bundle) bool {
	if core.HashBytes([]byte(b.CanonicalIndex)) != b.Pack.PackDigest {
		return false
	}
	var idx core.PackIndex
	if err := json.Unmarshal([]byte(b.CanonicalIndex), &idx); err != nil || idx.MerkleRoot != b.Pack.MerkleRoot {
		return false
	}
	for _, a := range b.Pack.Artifacts {
		steps, ok := b.Proofs[a.Name]
		if !ok || !merkle.VerifyProof(a.SHA256, steps, b.Pack.MerkleRoot) {
			return false
		}
	}
	return true
}
