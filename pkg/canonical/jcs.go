package canonical

import (
	"encoding/json"
	"reflect"
	"time"
)

// appendJCS encodes v as JSON text with object keys sorted lexicographically
// at every nesting level. String and number formatting delegate to
// encoding/json so the output matches what a plain json.Marshal of the same
// scalar would produce; only the key ordering differs.
//
// seen tracks the map/slice pointers on the current descent path to detect
// cyclic graphs.
func appendJCS(dst []byte, v any, seen map[uintptr]struct{}) ([]byte, error) {
	if v == nil {
		return append(dst, "null"...), nil
	}

	switch t := v.(type) {
	case bool:
		if t {
			return append(dst, "true"...), nil
		}
		return append(dst, "false"...), nil
	case string:
		return appendJSONScalar(dst, t)
	case float32:
		return appendJSONScalar(dst, float64(t))
	case float64:
		return appendJSONScalar(dst, t)
	case json.Number:
		return append(dst, string(t)...), nil
	case time.Time:
		// Dates normalize to an ISO-8601 UTC string.
		return appendJSONScalar(dst, t.UTC().Format(time.RFC3339Nano))
	}

	if s, ok := normalizeInt(v); ok {
		return append(dst, s...), nil
	}

	if entries, isMap, err := mapEntries(AlgJCS, v); isMap {
		if err != nil {
			return nil, err
		}
		release, err := enterJCS(v, seen)
		if err != nil {
			return nil, err
		}
		defer release()

		dst = append(dst, '{')
		for i, e := range entries {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst, err = appendJSONScalar(dst, e.key)
			if err != nil {
				return nil, err
			}
			dst = append(dst, ':')
			dst, err = appendJCS(dst, e.val, seen)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, '}'), nil
	}

	if elems, isSlice, err := sliceElems(AlgJCS, v); isSlice {
		if err != nil {
			return nil, err
		}
		release, err := enterJCS(v, seen)
		if err != nil {
			return nil, err
		}
		defer release()

		dst = append(dst, '[')
		for i, e := range elems {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst, err = appendJCS(dst, e, seen)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	}

	return nil, serr(AlgJCS, "unsupported type %T", v)
}

// enterJCS registers a container on the descent path and returns a release
// func that unregisters it. A container already on the path is a cycle.
func enterJCS(v any, seen map[uintptr]struct{}) (func(), error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		ptr := rv.Pointer()
		if ptr == 0 {
			return func() {}, nil
		}
		if _, ok := seen[ptr]; ok {
			return nil, serr(AlgJCS, "cyclic value")
		}
		seen[ptr] = struct{}{}
		return func() { delete(seen, ptr) }, nil
	default:
		// Arrays are value types and cannot form a cycle.
		return func() {}, nil
	}
}

// appendJSONScalar marshals a single scalar with encoding/json.
func appendJSONScalar(dst []byte, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, serr(AlgJCS, "encode scalar: %v", err)
	}
	return append(dst, b...), nil
}
