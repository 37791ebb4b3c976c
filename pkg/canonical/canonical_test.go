package canonical_test

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/holdonravn/Privora-core/pkg/canonical"
)

var allAlgorithms = []canonical.Algorithm{
	canonical.AlgJCS,
	canonical.AlgCBOR,
	canonical.AlgSSZ,
}

func TestSerialize_keyOrderInsensitive(t *testing.T) {
	// Same logical value, built with different insertion orders.
	a := map[string]any{
		"zeta":  1,
		"alpha": "x",
		"nested": map[string]any{
			"b": []any{1, 2, 3},
			"a": true,
		},
	}
	b := map[string]any{
		"nested": map[string]any{
			"a": true,
			"b": []any{1, 2, 3},
		},
		"alpha": "x",
		"zeta":  1,
	}

	for _, alg := range allAlgorithms {
		ba, err := canonical.Serialize(a, alg)
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		bb, err := canonical.Serialize(b, alg)
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		if !bytes.Equal(ba, bb) {
			t.Errorf("%s: serializations differ:\n  %q\n  %q", alg, ba, bb)
		}
	}
}

func TestSerialize_jcsSortsKeys(t *testing.T) {
	out, err := canonical.Serialize(map[string]any{"b": 2, "a": 1, "c": 3}, canonical.AlgJCS)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":1,"b":2,"c":3}` {
		t.Errorf("got %s", out)
	}
}

func TestSerialize_arrayOrderPreserved(t *testing.T) {
	for _, alg := range allAlgorithms {
		x, _ := canonical.Serialize([]any{1, 2, 3}, alg)
		y, _ := canonical.Serialize([]any{3, 2, 1}, alg)
		if bytes.Equal(x, y) {
			t.Errorf("%s: array order must be significant", alg)
		}
	}
}

func TestSerialize_bigIntNormalization(t *testing.T) {
	for _, alg := range allAlgorithms {
		asInt, err := canonical.Serialize(map[string]any{"v": int64(1234567890)}, alg)
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		asBig, err := canonical.Serialize(map[string]any{"v": big.NewInt(1234567890)}, alg)
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		if !bytes.Equal(asInt, asBig) {
			t.Errorf("%s: int64 and big.Int of same magnitude must serialize identically:\n  %q\n  %q",
				alg, asInt, asBig)
		}
	}
}

func TestSerialize_jcsCycleDetected(t *testing.T) {
	m := map[string]any{}
	m["self"] = m

	_, err := canonical.Serialize(m, canonical.AlgJCS)
	if err == nil {
		t.Fatal("expected SerializationError for cyclic value")
	}
	var serr *canonical.SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SerializationError, got %T", err)
	}
	if !strings.Contains(serr.Reason, "cyclic") {
		t.Errorf("unexpected reason: %q", serr.Reason)
	}
}

func TestSerialize_jcsSharedSubtreeIsNotACycle(t *testing.T) {
	shared := map[string]any{"k": 1}
	m := map[string]any{"a": shared, "b": shared}
	if _, err := canonical.Serialize(m, canonical.AlgJCS); err != nil {
		t.Errorf("diamond-shaped graph should serialize: %v", err)
	}
}

func TestSerialize_jcsRejectsBinary(t *testing.T) {
	_, err := canonical.Serialize(map[string]any{"raw": []byte{1, 2}}, canonical.AlgJCS)
	if err == nil {
		t.Fatal("expected error for binary value")
	}
}

func TestSerialize_timeNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	instant := time.Date(2026, 3, 1, 15, 0, 0, 0, loc)

	for _, alg := range allAlgorithms {
		local, _ := canonical.Serialize(instant, alg)
		utc, _ := canonical.Serialize(instant.UTC(), alg)
		if !bytes.Equal(local, utc) {
			t.Errorf("%s: same instant in different zones must serialize identically", alg)
		}
	}
}

func TestContentHash_format(t *testing.T) {
	h, err := canonical.ContentHash(map[string]any{"a": 1}, canonical.AlgJCS)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(h, "0x") || len(h) != 2+64 {
		t.Errorf("expected 0x-prefixed sha256 hex, got %q", h)
	}
}

func TestSerialize_deterministicAcrossRuns(t *testing.T) {
	v := map[string]any{
		"ts":    time.Unix(1700000000, 0),
		"count": 42,
		"tags":  []any{"a", "b"},
		"score": 0.5,
	}
	for _, alg := range allAlgorithms {
		first, err := canonical.Serialize(v, alg)
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		for i := 0; i < 20; i++ {
			again, _ := canonical.Serialize(v, alg)
			if !bytes.Equal(first, again) {
				t.Fatalf("%s: serialization not stable across runs", alg)
			}
		}
	}
}
