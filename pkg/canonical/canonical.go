// Package canonical implements deterministic byte encodings of structured
// values, used wherever the ledger computes a content hash.
//
// Three interchangeable algorithms are provided. All of them guarantee that
// two logically-equal values differing only in map key insertion order
// serialize to byte-identical output:
//   - AlgJCS: JSON text with object keys sorted at every nesting level.
//   - AlgCBOR: a canonical-binary encoding (CBOR-lite, not standards CBOR).
//   - AlgSSZ: a tagged-text encoding (SSZ-lite, deterministic only).
//
// Only the JCS path performs cycle detection. Feeding a cyclic value to the
// CBOR or SSZ path will recurse without bound; this asymmetry is deliberate
// and callers hashing untrusted graphs must use AlgJCS.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"sort"
)

// Algorithm selects one of the canonical encodings.
type Algorithm string

const (
	// AlgJCS is the sorted-key JSON text encoding.
	AlgJCS Algorithm = "jcs"
	// AlgCBOR is the canonical-binary (CBOR-lite) encoding.
	AlgCBOR Algorithm = "cbor-lite"
	// AlgSSZ is the tagged-text (SSZ-lite) encoding.
	AlgSSZ Algorithm = "ssz-lite"
)

// SerializationError reports a value the selected algorithm cannot encode,
// including a cyclic object graph on the JCS path.
type SerializationError struct {
	Alg    Algorithm
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("canonical: %s: %s", e.Alg, e.Reason)
}

func serr(alg Algorithm, format string, args ...any) *SerializationError {
	return &SerializationError{Alg: alg, Reason: fmt.Sprintf(format, args...)}
}

// Serialize encodes v deterministically under the given algorithm.
func Serialize(v any, alg Algorithm) ([]byte, error) {
	switch alg {
	case AlgJCS:
		return appendJCS(nil, v, make(map[uintptr]struct{}))
	case AlgCBOR:
		return appendCBOR(nil, v)
	case AlgSSZ:
		return appendSSZ(nil, v)
	default:
		return nil, serr(alg, "unknown algorithm")
	}
}

// ContentHash returns the SHA-256 of the canonical serialization of v,
// hex-encoded with a fixed "0x" prefix.
func ContentHash(v any, alg Algorithm) (string, error) {
	data, err := Serialize(v, alg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// mapEntry is one key/value pair of a map value, pre-sorted by key.
type mapEntry struct {
	key string
	val any
}

// mapEntries extracts the entries of any string-keyed map, sorted by key.
// The second return is false when v is not a map.
func mapEntries(alg Algorithm, v any) ([]mapEntry, bool, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false, nil
	}
	if rv.Type().Key().Kind() != reflect.String {
		return nil, true, serr(alg, "map keys must be strings, got %s", rv.Type().Key())
	}
	entries := make([]mapEntry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, mapEntry{
			key: iter.Key().String(),
			val: iter.Value().Interface(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	return entries, true, nil
}

// sliceElems extracts the elements of any slice or array, in order.
// The second return is false when v is not a slice or array. Byte slices
// are rejected: binary values must be pre-converted by the caller.
func sliceElems(alg Algorithm, v any) ([]any, bool, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false, nil
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, true, serr(alg, "binary values are not supported; pre-encode to hex or base64")
	}
	elems := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, true, nil
}

// normalizeInt reduces any Go integer kind, and big integers of the same
// magnitude, to a decimal string. Returns false when v is not integral.
func normalizeInt(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return fmt.Sprintf("%d", n), true
	case int8:
		return fmt.Sprintf("%d", n), true
	case int16:
		return fmt.Sprintf("%d", n), true
	case int32:
		return fmt.Sprintf("%d", n), true
	case int64:
		return fmt.Sprintf("%d", n), true
	case uint:
		return fmt.Sprintf("%d", n), true
	case uint8:
		return fmt.Sprintf("%d", n), true
	case uint16:
		return fmt.Sprintf("%d", n), true
	case uint32:
		return fmt.Sprintf("%d", n), true
	case uint64:
		return fmt.Sprintf("%d", n), true
	case *big.Int:
		return n.String(), true
	case big.Int:
		return n.String(), true
	}
	return "", false
}
