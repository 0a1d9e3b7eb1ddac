// Package merkle folds ordered lists of hex digests into a single root and
// produces inclusion proofs against that root.
//
// Leaves and interior nodes are domain separated: a leaf is
// SHA-256(0x00 || digest) over the hex digest string, a node is
// SHA-256(0x01 || left || right) over the raw child hashes. A node without a
// sibling is promoted to the next level unchanged. The root of an empty list
// is SHA-256 of the empty string.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// EmptyRoot is the root of a list with no digests.
var EmptyRoot = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// ProofStep is one sibling on the path from a leaf to the root. Left is true
// when the sibling sits to the left of the running hash.
type ProofStep struct {
	Sibling string `json:"sibling"`
	Left    bool   `json:"left"`
}

// Root folds digests, in order, into a hex Merkle root.
func Root(digests []string) string {
	if len(digests) == 0 {
		return EmptyRoot
	}
	level := leaves(digests)
	for len(level) > 1 {
		level = fold(level)
	}
	return hex.EncodeToString(level[0])
}

// Proof returns the inclusion proof for the digest at index.
func Proof(digests []string, index int) ([]ProofStep, error) {
	if index < 0 || index >= len(digests) {
		return nil, fmt.Errorf("merkle: index %d out of range [0,%d)", index, len(digests))
	}
	level := leaves(digests)
	pos := index
	var steps []ProofStep
	for len(level) > 1 {
		sib := pos ^ 1
		if sib < len(level) {
			steps = append(steps, ProofStep{
				Sibling: hex.EncodeToString(level[sib]),
				Left:    sib < pos,
			})
		}
		level = fold(level)
		pos /= 2
	}
	return steps, nil
}

// VerifyProof reports whether digest is included under root via steps.
func VerifyProof(digest string, steps []ProofStep, root string) bool {
	h := leafHash(digest)
	for _, s := range steps {
		sib, err := hex.DecodeString(s.Sibling)
		if err != nil || len(sib) != sha256.Size {
			return false
		}
		if s.Left {
			h = nodeHash(sib, h)
		} else {
			h = nodeHash(h, sib)
		}
	}
	return hex.EncodeToString(h) == root
}

func leaves(digests []string) [][]byte {
	out := make([][]byte, len(digests))
	for i, d := range digests {
		out[i] = leafHash(d)
	}
	return out
}

func fold(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 == len(level) {
			next = append(next, level[i])
			continue
		}
		next = append(next, nodeHash(level[i], level[i+1]))
	}
	return next
}

func leafHash(digest string) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write([]byte(digest))
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
