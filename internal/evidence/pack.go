// Package evidence builds Merkle-rooted, sealed evidence packs at terminal
// business events.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/merkle"
	"github.com/lzjever/ledgerseal/internal/seal"
)

// ArtifactInput is one snapshot to include in a pack. Payload is hashed with
// the canonical hasher; SHA256 alone is accepted for externally hashed
// documents.
type ArtifactInput struct {
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SHA256      string          `json:"sha256,omitempty"`
	ContentPath string          `json:"content_path,omitempty"`
}

// BuildRequest is the pure input of BuildPack.
type BuildRequest struct {
	TenantID       string
	EvidenceType   core.EvidenceType
	SubjectID      string
	TriggerEventID string
	Artifacts      []ArtifactInput
	Metadata       map[string]string
	CreatedAt      time.Time
}

// MerkleRoot folds the artifact digests, in listed order, into the pack root.
func MerkleRoot(artifacts []core.EvidenceArtifact) string {
	digests := make([]string, len(artifacts))
	for i, a := range artifacts {
		digests[i] = a.SHA256
	}
	return merkle.Root(digests)
}

// HashArtifacts computes the digest of every input. A payload and a
// precomputed digest given together must agree.
func HashArtifacts(inputs []ArtifactInput) ([]core.EvidenceArtifact, error) {
	out := make([]core.EvidenceArtifact, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for i, in := range inputs {
		field := fmt.Sprintf("artifacts[%d]", i)
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, core.Invalid(field+".name", "required")
		}
		if seen[name] {
			return nil, core.Invalid(field+".name", fmt.Sprintf("duplicate artifact %q", name))
		}
		seen[name] = true

		digest := strings.ToLower(strings.TrimSpace(in.SHA256))
		if len(in.Payload) > 0 {
			if !json.Valid(in.Payload) {
				return nil, core.Invalid(field+".payload", "not valid JSON")
			}
			h, err := core.Hash(in.Payload)
			if err != nil {
				return nil, fmt.Errorf("hash %s: %w", name, err)
			}
			if digest != "" && digest != h {
				return nil, core.Invalid(field+".sha256", "does not match payload")
			}
			digest = h
		}
		if digest == "" {
			return nil, core.Invalid(field, "payload or sha256 required")
		}
		out = append(out, core.EvidenceArtifact{
			Name:        name,
			SHA256:      digest,
			Payload:     in.Payload,
			ContentPath: in.ContentPath,
		})
	}
	return out, nil
}

// BuildPack hashes the artifacts, folds them into a Merkle root, assembles
// the pack index and has s seal it. Zero artifacts are allowed.
func BuildPack(ctx context.Context, s seal.Sealer, req BuildRequest) (core.EvidencePack, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return core.EvidencePack{}, core.Invalid("tenant_id", "required")
	}
	if !req.EvidenceType.IsValid() {
		return core.EvidencePack{}, core.Invalid("evidence_type", fmt.Sprintf("unknown evidence type %q", req.EvidenceType))
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		return core.EvidencePack{}, core.Invalid("subject_id", "required")
	}
	artifacts, err := HashArtifacts(req.Artifacts)
	if err != nil {
		return core.EvidencePack{}, err
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	pack := core.EvidencePack{
		ID:             core.NewID(),
		TenantID:       req.TenantID,
		EvidenceType:   req.EvidenceType,
		SubjectID:      req.SubjectID,
		TriggerEventID: req.TriggerEventID,
		Artifacts:      artifacts,
		MerkleRoot:     MerkleRoot(artifacts),
		Metadata:       metadata,
		Status:         core.PackSealed,
		ChainIntegrity: core.ChainOK,
		CreatedAt:      createdAt.UTC().Truncate(time.Microsecond),
	}
	pack.PackDigest, pack.Seal, err = seal.SealPack(ctx, s, pack.Index())
	if err != nil {
		return core.EvidencePack{}, err
	}
	return pack, nil
}
