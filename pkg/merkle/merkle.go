// Package merkle builds and queries binary Merkle trees over an ordered
// list of leaf hashes.
//
// The tree shape is implicit from the leaf count alone: adjacent nodes are
// paired level by level, and an unpaired trailing node at any level is
// hashed with itself (self-pairing) rather than promoted unchanged. This
// self-pairing rule is load-bearing — root values only match across
// implementations that replicate it exactly.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
)

// HashSize is the size in bytes of every node hash.
const HashSize = sha256.Size

// ErrIndexOutOfRange is returned by Path for an index outside [0, len(leaves)).
var ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")

// Side records on which side of the current node a branch sibling sits.
type Side string

const (
	SideLeft  Side = "L"
	SideRight Side = "R"
)

// BranchStep is one level of an inclusion proof: the sibling hash and the
// side it occupies relative to the node being proven.
type BranchStep struct {
	Hash []byte
	Side Side
}

// Root computes the Merkle root of the ordered leaves. An empty leaf list
// yields the all-zero sentinel root.
func Root(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return make([]byte, HashSize)
	}
	level := make([][]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// Path returns the inclusion branch for the leaf at index: one sibling per
// level, ordered leaf-to-root.
func Path(leaves [][]byte, index int) ([]BranchStep, error) {
	if index < 0 || index >= len(leaves) {
		return nil, ErrIndexOutOfRange
	}
	level := make([][]byte, len(leaves))
	copy(level, leaves)

	var branch []BranchStep
	idx := index
	for len(level) > 1 {
		sib := idx ^ 1
		side := SideRight
		if sib < idx {
			side = SideLeft
		}
		if sib >= len(level) {
			// No sibling: the node pairs with itself.
			sib = idx
			side = SideRight
		}
		branch = append(branch, BranchStep{Hash: level[sib], Side: side})
		idx /= 2
		level = nextLevel(level)
	}
	return branch, nil
}

// Verify folds branch over leaf and reports whether the resulting hash
// equals root byte-for-byte.
func Verify(leaf []byte, branch []BranchStep, root []byte) bool {
	h := leaf
	for _, step := range branch {
		if step.Side == SideLeft {
			h = hashPair(step.Hash, h)
		} else {
			h = hashPair(h, step.Hash)
		}
	}
	return bytes.Equal(h, root)
}

// nextLevel pairs adjacent nodes, duplicating an unpaired trailing node.
func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashPair(left, right))
	}
	return next
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
