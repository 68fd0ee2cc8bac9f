package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tailscale/hujson"
)

type jsoncCodec struct{}

// JSONC returns a codec for JSON with comments and trailing commas.
// Updates made through Patch keep existing comments.
func JSONC() Codec {
	return jsoncCodec{}
}

var _ Patcher = jsoncCodec{}

func (jsoncCodec) Format() Format {
	return FormatJSONC
}

func (jsoncCodec) Decode(data []byte) (map[string]any, error) {
	if isBlank(data) {
		return map[string]any{}, nil
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONC: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(std, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSONC: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (jsoncCodec) Encode(doc map[string]any) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSONC: %w", err)
	}
	formatted, err := hujson.Format(b)
	if err != nil {
		return nil, fmt.Errorf("failed to format JSONC: %w", err)
	}
	return formatted, nil
}

// Patch sets key to value with a JSON Patch "replace" (existing member) or
// "add" (new member) operation.
func (c jsoncCodec) Patch(current []byte, key string, value any) ([]byte, error) {
	if isBlank(current) {
		return c.Encode(map[string]any{key: value})
	}

	existing, err := c.Decode(current)
	if err != nil {
		return nil, err
	}
	op := "add"
	if _, ok := existing[key]; ok {
		op = "replace"
	}

	root, err := hujson.Parse(current)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONC: %w", err)
	}

	patch, err := json.Marshal([]map[string]any{{
		"op":    op,
		"path":  "/" + escapePointer(key),
		"value": value,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}
	if err := root.Patch(patch); err != nil {
		return nil, fmt.Errorf("failed to patch JSONC: %w", err)
	}
	root.Format()
	return root.Pack(), nil
}

// escapePointer escapes a single JSON Pointer reference token (RFC 6901).
func escapePointer(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}
