package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Record is one stored document. Values follow encoding/json decoding rules:
// numbers are float64, objects are map[string]any.
type Record map[string]any

// Clone returns a deep copy of r via a JSON round trip.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}

	data, err := json.Marshal(r)
	if err != nil {
		return r
	}

	out, err := decodeRecord(data)
	if err != nil {
		return r
	}

	return out
}

func encodeRecord(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("store: encoding record: %w", err)
	}

	return data, nil
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("store: decoding record: %w", err)
	}

	return r, nil
}

// lookupPath resolves a dotted field path inside r.
func lookupPath(r Record, path string) (any, bool) {
	var cur any = map[string]any(r)

	for _, part := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			if rec, isRec := cur.(Record); isRec {
				m = rec
			} else {
				return nil, false
			}
		}

		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return cur, cur != nil
}

// recordKey extracts the primary key of r as a stored key.
func recordKey(r Record, keyPath string) (string, error) {
	v, ok := lookupPath(r, keyPath)
	if !ok {
		return "", fmt.Errorf("%w: key path %q", ErrMissingKey, keyPath)
	}

	if k, isStr := v.(string); isStr && k == "" {
		return "", fmt.Errorf("%w: key path %q is empty", ErrMissingKey, keyPath)
	}

	key, err := storedKey(v)
	if err != nil {
		return "", fmt.Errorf("%w: key path %q: %w", ErrMissingKey, keyPath, err)
	}

	return key, nil
}

// storedKey is the type-tagged form of a primary key as written to the
// records table. "5" and 5 are different records; 5 and 5.0 are the same.
func storedKey(id any) (string, error) {
	switch k := id.(type) {
	case string:
		return "s:" + norm.NFC.String(k), nil
	case bool, nil:
		return "", fmt.Errorf("unsupported key type %T", id)
	}

	if n, ok := toFloat(id); ok {
		return "n:" + strconv.FormatFloat(n, 'f', -1, 64), nil
	}

	return "", fmt.Errorf("unsupported key type %T", id)
}

// KeyString renders a primary key as plain text for mutation record ids and
// remote paths. Unlike stored keys it does not carry the key's type.
func KeyString(id any) string {
	switch k := id.(type) {
	case string:
		return norm.NFC.String(k)
	default:
		if n, ok := toFloat(id); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}

		return fmt.Sprint(id)
	}
}

// Get returns the value at a dotted field path.
func (r Record) Get(path string) (any, bool) {
	return lookupPath(r, path)
}

// Set stores v at a dotted field path, creating intermediate objects.
func (r Record) Set(path string, v any) {
	parts := splitPath(path)
	cur := map[string]any(r)

	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			if rec, isRec := cur[part].(Record); isRec {
				next = rec
			} else {
				next = map[string]any{}
				cur[part] = next
			}
		}

		cur = next
	}

	cur[parts[len(parts)-1]] = v
}

// indexValue extracts and encodes the value of keyPath. Records without the
// field are not indexed.
func indexValue(r Record, keyPath string) (string, bool) {
	v, ok := lookupPath(r, keyPath)
	if !ok {
		return "", false
	}

	return encodeIndexValue(v)
}

// encodeIndexValue produces a type-tagged string so that values of different
// types never collide ("1" vs 1 vs true).
func encodeIndexValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return "s:" + norm.NFC.String(x), true
	case bool:
		return "b:" + strconv.FormatBool(x), true
	}

	if n, ok := toFloat(v); ok {
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64), true
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}

	return "j:" + string(data), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}

	return 0, false
}

// EqualValues compares two JSON-compatible values by their canonical JSON
// encoding, so int 5 and float64 5 are equal and map key order is ignored.
func EqualValues(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)

	if errA != nil || errB != nil {
		return false
	}

	return bytes.Equal(ja, jb)
}
