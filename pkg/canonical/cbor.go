package canonical

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"time"
)

// CBOR-lite major types and simple values. The head-byte layout follows
// CBOR (RFC 8949) closely enough to be recognizable, but this is not a
// standards-compliant encoder: non-integer numbers, big integers beyond
// 64 bits, and timestamps all fall back to text strings so that exotic
// values still encode deterministically.
const (
	cborMajorUint  = 0x00
	cborMajorNeg   = 0x20
	cborMajorText  = 0x60
	cborMajorArray = 0x80
	cborMajorMap   = 0xa0

	cborFalse = 0xf4
	cborTrue  = 0xf5
	cborNull  = 0xf6
)

func appendCBOR(dst []byte, v any) ([]byte, error) {
	if v == nil {
		return append(dst, cborNull), nil
	}

	switch t := v.(type) {
	case bool:
		if t {
			return append(dst, cborTrue), nil
		}
		return append(dst, cborFalse), nil
	case string:
		return appendCBORText(dst, t), nil
	case float32:
		return appendCBORFloat(dst, float64(t)), nil
	case float64:
		return appendCBORFloat(dst, t), nil
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return appendCBORInt(dst, i), nil
		}
		return appendCBORText(dst, string(t)), nil
	case time.Time:
		return appendCBORText(dst, t.UTC().Format(time.RFC3339Nano)), nil
	case *big.Int:
		return appendCBORBig(dst, t), nil
	case big.Int:
		return appendCBORBig(dst, &t), nil
	case int:
		return appendCBORInt(dst, int64(t)), nil
	case int8:
		return appendCBORInt(dst, int64(t)), nil
	case int16:
		return appendCBORInt(dst, int64(t)), nil
	case int32:
		return appendCBORInt(dst, int64(t)), nil
	case int64:
		return appendCBORInt(dst, t), nil
	case uint:
		return appendCBORHead(dst, cborMajorUint, uint64(t)), nil
	case uint8:
		return appendCBORHead(dst, cborMajorUint, uint64(t)), nil
	case uint16:
		return appendCBORHead(dst, cborMajorUint, uint64(t)), nil
	case uint32:
		return appendCBORHead(dst, cborMajorUint, uint64(t)), nil
	case uint64:
		return appendCBORHead(dst, cborMajorUint, t), nil
	}

	if entries, isMap, err := mapEntries(AlgCBOR, v); isMap {
		if err != nil {
			return nil, err
		}
		dst = appendCBORHead(dst, cborMajorMap, uint64(len(entries)))
		for _, e := range entries {
			dst = appendCBORText(dst, e.key)
			dst, err = appendCBOR(dst, e.val)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	}

	if elems, isSlice, err := sliceElems(AlgCBOR, v); isSlice {
		if err != nil {
			return nil, err
		}
		dst = appendCBORHead(dst, cborMajorArray, uint64(len(elems)))
		for _, e := range elems {
			dst, err = appendCBOR(dst, e)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	}

	return nil, serr(AlgCBOR, "unsupported type %T", v)
}

// appendCBORHead writes a major-type head with minimal-length argument
// encoding: the smallest of the immediate, 1, 2, 4 or 8 byte forms.
func appendCBORHead(dst []byte, major byte, n uint64) []byte {
	switch {
	case n < 24:
		return append(dst, major|byte(n))
	case n <= math.MaxUint8:
		return append(dst, major|24, byte(n))
	case n <= math.MaxUint16:
		return append(dst, major|25, byte(n>>8), byte(n))
	case n <= math.MaxUint32:
		return append(dst, major|26, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	default:
		return append(dst, major|27,
			byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
			byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}

func appendCBORText(dst []byte, s string) []byte {
	dst = appendCBORHead(dst, cborMajorText, uint64(len(s)))
	return append(dst, s...)
}

func appendCBORInt(dst []byte, i int64) []byte {
	if i >= 0 {
		return appendCBORHead(dst, cborMajorUint, uint64(i))
	}
	return appendCBORHead(dst, cborMajorNeg, uint64(-1-i))
}

// appendCBORBig encodes a big integer identically to the native integer of
// the same magnitude when it fits in 64 bits, and as decimal text otherwise.
func appendCBORBig(dst []byte, b *big.Int) []byte {
	if b.IsInt64() {
		return appendCBORInt(dst, b.Int64())
	}
	if b.IsUint64() {
		return appendCBORHead(dst, cborMajorUint, b.Uint64())
	}
	return appendCBORText(dst, b.String())
}

// appendCBORFloat encodes integer-valued floats as integers and everything
// else as decimal text, preserving determinism over exotic floating values.
func appendCBORFloat(dst []byte, f float64) []byte {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) <= 1<<53 {
		return appendCBORInt(dst, int64(f))
	}
	return appendCBORText(dst, strconv.FormatFloat(f, 'g', -1, 64))
}
