package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/holdonravn/Privora-core/internal/metrics"
	"github.com/holdonravn/Privora-core/pkg/merkle"
)

// RootSnapshot is the persisted point-in-time Merkle summary of a
// partition. External anchoring jobs consume this exact shape. MerkleRoot
// is nil until the partition holds at least one leaf.
type RootSnapshot struct {
	Day        string    `json:"day"`
	LeafCount  int       `json:"leafCount"`
	MerkleRoot *string   `json:"merkleRoot"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// leafIndex is the persisted ordered leaf list of a partition, enabling
// inclusion-proof reconstruction long after the partition rotated out.
type leafIndex struct {
	Day    string   `json:"day"`
	Leaves []string `json:"leaves"`
}

// Status is the live view of the open partition, computed from memory
// without touching disk.
type Status struct {
	Day        string  `json:"day"`
	LeafCount  int     `json:"leafCount"`
	MerkleRoot *string `json:"merkleRoot"`
	File       string  `json:"file"`
}

// ProofStep is one level of an inclusion proof on the wire.
type ProofStep struct {
	Hash string `json:"hash"`
	Side string `json:"side"`
}

// InclusionProof pairs a branch with the root it folds up to.
type InclusionProof struct {
	Branch []ProofStep `json:"branch"`
	Root   string      `json:"root"`
}

// CurrentRoot reports the open partition's day, leaf count and Merkle root
// from the in-memory leaf list.
func (l *Ledger) CurrentRoot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	var root *string
	if len(l.leaves) > 0 {
		r := "0x" + hex.EncodeToString(merkle.Root(l.leaves))
		root = &r
	}
	return Status{
		Day:        l.partitionKey(),
		LeafCount:  len(l.leaves),
		MerkleRoot: root,
		File:       partitionPath(l.cfg.Dir, l.partitionKey()),
	}
}

// Proof rebuilds the Merkle tree from the persisted leaf index for day and
// returns the inclusion proof for the leaf at index. Returns ErrNotFound
// for an unknown day or an index outside [0, leafCount).
func (l *Ledger) Proof(day string, index int) (*InclusionProof, error) {
	return ProofFromIndex(l.cfg.Dir, day, index)
}

// ProofFromIndex builds an inclusion proof straight from a persisted leaf
// index file, without an open ledger. Offline audit tooling uses this
// against a copied data directory.
func ProofFromIndex(dir, day string, index int) (*InclusionProof, error) {
	idx, err := loadLeafIndex(dir, day)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(idx.Leaves) {
		return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrNotFound, index, len(idx.Leaves))
	}

	leaves := make([][]byte, len(idx.Leaves))
	for i, h := range idx.Leaves {
		b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
		if err != nil {
			return nil, fmt.Errorf("leaf index for %s corrupt at %d: %w", day, i, err)
		}
		leaves[i] = b
	}

	branch, err := merkle.Path(leaves, index)
	if err != nil {
		return nil, err
	}
	steps := make([]ProofStep, len(branch))
	for i, s := range branch {
		steps[i] = ProofStep{Hash: "0x" + hex.EncodeToString(s.Hash), Side: string(s.Side)}
	}
	return &InclusionProof{
		Branch: steps,
		Root:   "0x" + hex.EncodeToString(merkle.Root(leaves)),
	}, nil
}

// persistStateLocked rewrites the partition's root snapshot and leaf index.
// Both are full-file rewrites through a temp-and-rename, so readers never
// observe a torn file. O(n) per call, acceptable at expected leaf volumes.
func (l *Ledger) persistStateLocked() error {
	key := l.partitionKey()

	var root *string
	if len(l.leaves) > 0 {
		r := "0x" + hex.EncodeToString(merkle.Root(l.leaves))
		root = &r
	}
	snap := RootSnapshot{
		Day:        key,
		LeafCount:  len(l.leaves),
		MerkleRoot: root,
		UpdatedAt:  l.cfg.Now().UTC(),
	}
	if err := writeJSONAtomic(snapshotPath(l.cfg.Dir, key), snap); err != nil {
		return fmt.Errorf("persist root snapshot: %w", err)
	}

	idx := leafIndex{Day: key, Leaves: make([]string, len(l.leaves))}
	for i, leaf := range l.leaves {
		idx.Leaves[i] = "0x" + hex.EncodeToString(leaf)
	}
	if err := writeJSONAtomic(indexPath(l.cfg.Dir, key), idx); err != nil {
		return fmt.Errorf("persist leaf index: %w", err)
	}
	metrics.RecordSnapshot()
	return nil
}

// LoadSnapshot reads the persisted root snapshot for a partition key.
func LoadSnapshot(dir, day string) (*RootSnapshot, error) {
	data, err := os.ReadFile(snapshotPath(dir, day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no snapshot for %s", ErrNotFound, day)
		}
		return nil, err
	}
	var snap RootSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot for %s: %w", day, err)
	}
	return &snap, nil
}

func loadLeafIndex(dir, day string) (*leafIndex, error) {
	data, err := os.ReadFile(indexPath(dir, day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no leaf index for %s", ErrNotFound, day)
		}
		return nil, err
	}
	var idx leafIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse leaf index for %s: %w", day, err)
	}
	return &idx, nil
}

func snapshotPath(dir, key string) string {
	return filepath.Join(dir, "ledger-"+key+".root.json")
}

func indexPath(dir, key string) string {
	return filepath.Join(dir, "ledger-"+key+".index.json")
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
