package canonical

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// appendSSZ encodes v as tagged text (SSZ-lite): a one-character type tag
// per value, with map keys sorted. This is not a fixed-size standards
// encoding; the only guarantee is determinism.
//
// Tags: s:<string>  i:<integer>  b:<bool>  n (null)  a[...]  o{...}
func appendSSZ(dst []byte, v any) ([]byte, error) {
	if v == nil {
		return append(dst, 'n'), nil
	}

	switch t := v.(type) {
	case bool:
		if t {
			return append(dst, "b:true"...), nil
		}
		return append(dst, "b:false"...), nil
	case string:
		dst = append(dst, "s:"...)
		return append(dst, t...), nil
	case float32:
		return appendSSZFloat(dst, float64(t)), nil
	case float64:
		return appendSSZFloat(dst, t), nil
	case json.Number:
		if _, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			dst = append(dst, "i:"...)
			return append(dst, string(t)...), nil
		}
		dst = append(dst, "s:"...)
		return append(dst, string(t)...), nil
	case time.Time:
		dst = append(dst, "s:"...)
		return append(dst, t.UTC().Format(time.RFC3339Nano)...), nil
	}

	if s, ok := normalizeInt(v); ok {
		dst = append(dst, "i:"...)
		return append(dst, s...), nil
	}

	if entries, isMap, err := mapEntries(AlgSSZ, v); isMap {
		if err != nil {
			return nil, err
		}
		dst = append(dst, "o{"...)
		for i, e := range entries {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = append(dst, e.key...)
			dst = append(dst, ':')
			dst, err = appendSSZ(dst, e.val)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, '}'), nil
	}

	if elems, isSlice, err := sliceElems(AlgSSZ, v); isSlice {
		if err != nil {
			return nil, err
		}
		dst = append(dst, "a["...)
		for i, e := range elems {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst, err = appendSSZ(dst, e)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	}

	return nil, serr(AlgSSZ, "unsupported type %T", v)
}

// Integer-valued floats take the i: tag so they match their integer
// equivalents; everything else is carried as its decimal text form.
func appendSSZFloat(dst []byte, f float64) []byte {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) <= 1<<53 {
		dst = append(dst, "i:"...)
		return strconv.AppendInt(dst, int64(f), 10)
	}
	dst = append(dst, "s:"...)
	return append(dst, strconv.FormatFloat(f, 'g', -1, 64)...)
}
