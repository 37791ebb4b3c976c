package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/holdonravn/Privora-core/pkg/canonical"
)

// Kind discriminates the event types that interleave into one chronological
// chain per partition. All kinds share the same chain and leaf machinery;
// there is no separate ledger per type.
type Kind string

const (
	KindProofCapture  Kind = "pc" // computation proof capture
	KindCorrection    Kind = "px" // correction / supersede
	KindDisputeOpen   Kind = "do"
	KindDisputeUpdate Kind = "du"
)

// Valid reports whether k is one of the known event kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProofCapture, KindCorrection, KindDisputeOpen, KindDisputeUpdate:
		return true
	}
	return false
}

// Reserved line keys. Payloads may not carry these; they are written by the
// ledger itself.
const (
	keyType      = "t"
	keyCreatedAt = "createdAt"
	keyPrevHash  = "prevHash"
	keyLineHash  = "lineHash"
)

// Record is one ledger event before chaining. Payload holds the producer's
// business fields and must contain only JSON-native values (strings,
// numbers, bools, null, arrays, string-keyed maps); chain metadata is added
// by the ledger at append time and is never part of the payload.
type Record struct {
	Kind      Kind
	CreatedAt time.Time
	Payload   map[string]any
}

// Validate checks the record at the boundary before it reaches the chain.
func (r *Record) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown event kind %q", ErrInvalidRecord, r.Kind)
	}
	for _, k := range []string{keyType, keyCreatedAt, keyPrevHash, keyLineHash} {
		if _, ok := r.Payload[k]; ok {
			return fmt.Errorf("%w: payload carries reserved key %q", ErrInvalidRecord, k)
		}
	}
	for k, v := range r.Payload {
		if err := validateValue(v); err != nil {
			return fmt.Errorf("%w: payload key %q: %v", ErrInvalidRecord, k, err)
		}
	}
	return nil
}

// validateValue enforces the JSON-native payload contract. Values whose
// json.Marshal output can differ from their canonical serialization, a
// zoned time.Time in particular, would make the recovered leaf hash
// diverge from the append-time one, so they are rejected here instead.
func validateValue(v any) error {
	switch v.(type) {
	case nil, json.Number, *big.Int:
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return validateValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Errorf("binary values are not supported; pre-encode to hex or base64")
		}
		for i := 0; i < rv.Len(); i++ {
			if err := validateValue(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("map keys must be strings, got %s", rv.Type().Key())
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := validateValue(iter.Value().Interface()); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported payload value type %T", v)
	}
}

// businessFields merges the payload with the discriminant and timestamp —
// everything that participates in the content hash, and nothing the chain
// adds afterwards.
func (r *Record) businessFields() map[string]any {
	fields := make(map[string]any, len(r.Payload)+2)
	for k, v := range r.Payload {
		fields[k] = v
	}
	fields[keyType] = string(r.Kind)
	fields[keyCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	return fields
}

// ChainedRecord is the result of a successful append: the record plus its
// chain metadata. Immutable once returned.
type ChainedRecord struct {
	Kind      Kind      `json:"t"`
	CreatedAt time.Time `json:"createdAt"`
	Day       string    `json:"day"`
	Index     int       `json:"index"`
	PrevHash  string    `json:"prevHash"`
	LineHash  string    `json:"lineHash"`
	Leaf      string    `json:"leaf"`
}

// canonicalLine serializes business fields deterministically. The same
// bytes are produced at append time and during the recovery scan, so leaf
// hashes survive a restart.
func canonicalLine(fields map[string]any) ([]byte, error) {
	return canonical.Serialize(fields, canonical.AlgJCS)
}

// chainHash computes lineHash = H(prevHash + rawLine), hex-encoded.
// At partition start prev is the header line's hash.
func chainHash(prev string, rawLine []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(rawLine)
	return hex.EncodeToString(h.Sum(nil))
}

// leafHash is the record's content hash: 0x-prefixed SHA-256 of the
// canonical business fields. It is what enters the Merkle accumulator.
func leafHash(rawLine []byte) string {
	sum := sha256.Sum256(rawLine)
	return "0x" + hex.EncodeToString(sum[:])
}
