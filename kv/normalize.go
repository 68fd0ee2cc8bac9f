package kv

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotSerializable is returned when a value cannot be represented as JSON.
var ErrNotSerializable = errors.New("kv: value is not JSON-serializable")

// Normalize converts v to the shape a JSON decoder would produce
// (map[string]any, []any, string, float64, bool, nil). The result shares no
// memory with v.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return out, nil
}

// NormalizeMap applies Normalize to every value of m.
func NormalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// Encode marshals a normalized value for backends that store text.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return string(b), nil
}

// Decode parses text written by Encode.
func Decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to decode stored value: %w", err)
	}
	return v, nil
}
