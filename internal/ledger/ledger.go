// Package ledger implements the day-partitioned, hash-chained, append-only
// proof ledger.
//
// Each UTC day gets its own NDJSON partition file. Line 0 is a header
// record whose hash seeds the chain pointer; every subsequent line carries
// prevHash and lineHash, where lineHash = H(prevHash ∥ rawLine) over the
// canonical serialization of the record's business fields. Rotation — on
// day change or when the partition's record bytes exceed a ceiling — starts
// a fresh chain; a new day never continues the previous day's chain.
//
// The in-memory leaf list and chain pointer are owned exclusively by the
// Ledger instance that holds writer status for the partition. Recovery from
// disk is the only synchronization mechanism across restarts or leadership
// handoff.
package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/holdonravn/Privora-core/internal/metrics"
	"go.uber.org/zap"
)

// FileFormat identifies the partition wire format written by this package.
const FileFormat = "ndjson-chain-v1"

// headerVersion is bumped only on breaking changes to the line shapes.
const headerVersion = 1

// LeafHashAlgorithm names the content-hash scheme recorded in each header.
const LeafHashAlgorithm = "sha256-jcs"

// ErrNotFound is returned for inclusion proofs against an unknown day or an
// out-of-range leaf index.
var ErrNotFound = errors.New("ledger: not found")

// ErrInvalidRecord is returned when a record fails boundary validation.
var ErrInvalidRecord = errors.New("ledger: invalid record")

// ErrClosed is returned by operations on a closed ledger.
var ErrClosed = errors.New("ledger: closed")

// Config controls a Ledger instance.
type Config struct {
	// Dir is the directory holding partition, snapshot and index files.
	Dir string
	// MaxPartitionBytes is the per-partition ceiling over chained record
	// bytes (the header line is exempt). Defaults to 64 MiB.
	MaxPartitionBytes int64
	// SnapshotEvery persists a root snapshot and leaf index after this many
	// appends. Defaults to 100.
	SnapshotEvery int
	// Now overrides the clock; used by rotation tests. Defaults to time.Now.
	Now func() time.Time
}

// Ledger is the single-writer, append-only proof ledger. All exported
// methods are safe for concurrent use within one process, but only one
// process instance may hold writer status for a partition at a time — that
// discipline is enforced by the append queue's leader election, not here.
type Ledger struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	closed      bool
	f           *os.File
	day         string // YYYYMMDD of the open partition
	seq         int    // size-rotation sequence within the day, 0 = first
	recordBytes int64  // chained record bytes in the open partition
	chainPtr    string // lineHash of the most recent line (header at start)
	leaves      [][]byte
	sinceSnap   int
}

// Open opens (or recovers) today's partition under cfg.Dir.
func Open(cfg Config, logger *zap.Logger) (*Ledger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("ledger: Dir is required")
	}
	if cfg.MaxPartitionBytes <= 0 {
		cfg.MaxPartitionBytes = 64 << 20
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	l := &Ledger{cfg: cfg, logger: logger}

	day := dayKey(cfg.Now())
	seq, err := latestSeq(cfg.Dir, day)
	if err != nil {
		return nil, err
	}
	if err := l.openPartition(day, seq); err != nil {
		return nil, err
	}
	return l, nil
}

// Append chains the record onto the open partition. The write is atomic at
// line granularity: either the full line lands or none of it does. Failures
// are surfaced to the caller without internal retry.
func (l *Ledger) Append(ctx context.Context, rec *Record) (*ChainedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.cfg.Now().UTC()
	}

	fields := rec.businessFields()
	rawLine, err := canonicalLine(fields)
	if err != nil {
		return nil, fmt.Errorf("canonicalize record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	if err := l.maybeRotateLocked(); err != nil {
		return nil, err
	}

	prev := l.chainPtr
	line := chainHash(prev, rawLine)

	full := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		full[k] = v
	}
	full[keyPrevHash] = prev
	full[keyLineHash] = line

	buf, err := json.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("encode ledger line: %w", err)
	}
	buf = append(buf, '\n')

	// Single write call so a crash or cancellation never leaves a partial
	// line that a later write would extend.
	if _, err := l.f.Write(buf); err != nil {
		return nil, fmt.Errorf("append ledger line: %w", err)
	}

	leaf := leafHash(rawLine)
	leafBytes, _ := hex.DecodeString(leaf[2:])

	l.recordBytes += int64(len(buf))
	l.chainPtr = line
	l.leaves = append(l.leaves, leafBytes)
	l.sinceSnap++

	if l.sinceSnap >= l.cfg.SnapshotEvery {
		if err := l.persistStateLocked(); err != nil {
			l.logger.Warn("periodic snapshot failed", zap.Error(err))
		} else {
			l.sinceSnap = 0
		}
	}

	metrics.RecordAppend(string(rec.Kind))

	return &ChainedRecord{
		Kind:      rec.Kind,
		CreatedAt: rec.CreatedAt,
		Day:       l.partitionKey(),
		Index:     len(l.leaves) - 1,
		PrevHash:  prev,
		LineHash:  line,
		Leaf:      leaf,
	}, nil
}

// LeafCount returns the number of leaves in the open partition.
func (l *Ledger) LeafCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leaves)
}

// Close flushes a final snapshot and closes the partition file. Safe to
// call once; subsequent appends fail with ErrClosed.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	if err := l.persistStateLocked(); err != nil {
		firstErr = err
	}
	if err := l.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// partitionKey is the durable name of the open partition: the day key, with
// a dotted sequence suffix for size-rotation overflow within one day.
func (l *Ledger) partitionKey() string {
	return partitionName(l.day, l.seq)
}

func partitionName(day string, seq int) string {
	if seq == 0 {
		return day
	}
	return fmt.Sprintf("%s.%d", day, seq)
}

func dayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

func partitionPath(dir, key string) string {
	return filepath.Join(dir, "ledger-"+key+".ndjson")
}

// latestSeq finds the highest size-rotation sequence already on disk for a
// day, so a restart resumes the newest partition instead of an earlier,
// already-full one.
func latestSeq(dir, day string) (int, error) {
	seq := 0
	for {
		next := partitionPath(dir, partitionName(day, seq+1))
		if _, err := os.Stat(next); err != nil {
			if os.IsNotExist(err) {
				return seq, nil
			}
			return 0, fmt.Errorf("probe partition %s: %w", next, err)
		}
		seq++
	}
}

// maybeRotateLocked closes out the current partition when the UTC day has
// changed or the partition's record bytes have reached the ceiling.
func (l *Ledger) maybeRotateLocked() error {
	today := dayKey(l.cfg.Now())
	switch {
	case today != l.day:
		// Day change: fresh chain, sequence resets.
		return l.rotateLocked(today, 0)
	case l.recordBytes >= l.cfg.MaxPartitionBytes:
		return l.rotateLocked(l.day, l.seq+1)
	}
	return nil
}

func (l *Ledger) rotateLocked(day string, seq int) error {
	if err := l.persistStateLocked(); err != nil {
		l.logger.Warn("final snapshot before rotation failed", zap.Error(err))
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("close partition %s: %w", l.partitionKey(), err)
	}
	l.logger.Info("partition rotated",
		zap.String("from", l.partitionKey()),
		zap.String("to", partitionName(day, seq)),
		zap.Int("leaves", len(l.leaves)),
	)
	return l.openPartition(day, seq)
}

// openPartition opens or recovers the partition for (day, seq) and installs
// it as the active one. Caller holds l.mu (or is constructing the Ledger).
func (l *Ledger) openPartition(day string, seq int) error {
	path := partitionPath(l.cfg.Dir, partitionName(day, seq))

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read partition %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open partition %s: %w", path, err)
	}

	l.f = f
	l.day = day
	l.seq = seq
	l.recordBytes = 0
	l.chainPtr = ""
	l.leaves = nil
	l.sinceSnap = 0

	if len(existing) == 0 {
		return l.writeHeaderLocked()
	}
	l.recoverLocked(existing)
	return nil
}

// writeHeaderLocked writes line 0 of a fresh partition. The header's hash
// becomes the initial chain pointer, so even the first record is anchored.
func (l *Ledger) writeHeaderLocked() error {
	header := map[string]any{
		keyType:       "header",
		"ver":         headerVersion,
		keyCreatedAt:  l.cfg.Now().UTC().Format(time.RFC3339Nano),
		"leafHashAlg": LeafHashAlgorithm,
		"fileFormat":  FileFormat,
	}
	buf, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if _, err := l.f.Write(append(buf, '\n')); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	sum := sha256.Sum256(buf)
	l.chainPtr = hex.EncodeToString(sum[:])
	return nil
}

// recoverLocked rebuilds the chain pointer and leaf list by scanning the
// partition sequentially. Unparseable lines — typically a trailing fragment
// from a crash mid-write — are skipped without aborting startup. Lines are
// split manually rather than with a bufio.Scanner: a record line can be
// arbitrarily large and a capped scanner would silently stop mid-file,
// dropping every later line and forking the chain on the next append.
func (l *Ledger) recoverLocked(data []byte) {
	lineNo := 0
	skipped := 0
	for len(data) > 0 {
		var raw []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			raw, data = data[:i], data[i+1:]
		} else {
			raw, data = data, nil
		}
		lineNo++
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		parsed, err := decodeLine(raw)
		if err != nil {
			skipped++
			l.logger.Warn("skipping malformed ledger line",
				zap.String("partition", l.partitionKey()),
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}

		if parsed.header {
			sum := sha256.Sum256(raw)
			l.chainPtr = hex.EncodeToString(sum[:])
			continue
		}

		l.recordBytes += int64(len(raw)) + 1
		l.chainPtr = parsed.lineHash
		l.leaves = append(l.leaves, parsed.leaf)
	}

	l.logger.Info("partition recovered",
		zap.String("partition", l.partitionKey()),
		zap.Int("leaves", len(l.leaves)),
		zap.Int("skipped_lines", skipped),
	)
}

// parsedLine is the result of decoding one partition line during recovery.
type parsedLine struct {
	header   bool
	lineHash string
	leaf     []byte
}

// decodeLine parses a partition line and recomputes its leaf hash from the
// canonical form of its business fields. Numeric values are preserved as
// their exact file text so the recomputed hash matches the append-time one.
func decodeLine(raw []byte) (*parsedLine, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse line: %w", err)
	}

	if t, _ := m[keyType].(string); t == "header" {
		return &parsedLine{header: true}, nil
	}

	line, ok := m[keyLineHash].(string)
	if !ok || line == "" {
		return nil, errors.New("line missing lineHash")
	}

	delete(m, keyPrevHash)
	delete(m, keyLineHash)
	rawLine, err := canonicalLine(m)
	if err != nil {
		return nil, fmt.Errorf("recanonicalize line: %w", err)
	}
	leafHex := leafHash(rawLine)
	leaf, err := hex.DecodeString(leafHex[2:])
	if err != nil {
		return nil, fmt.Errorf("decode leaf hash: %w", err)
	}
	return &parsedLine{lineHash: line, leaf: leaf}, nil
}
