// Package decoder converts JSON-shaped records read from a key-value backend
// into typed Go values.
package decoder

// Func decodes a map[string]any into target, which must be a pointer.
type Func func(data map[string]any, target any) error
