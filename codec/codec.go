// Package codec encodes and decodes the documents that file-backed key-value
// stores persist. A document is a single top-level object whose members are
// the stored keys.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a document format.
type Format string

// Supported document formats.
const (
	FormatJSON  Format = "json"
	FormatJSONC Format = "jsonc"
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
)

// ErrUnknownFormat is returned when no codec matches a format or file extension.
var ErrUnknownFormat = errors.New("unknown document format")

// Codec converts between document bytes and map[string]any.
type Codec interface {
	// Format returns the format handled by this codec.
	Format() Format

	// Decode parses data into a document. Empty or whitespace-only input
	// yields an empty, non-nil map.
	Decode(data []byte) (map[string]any, error)

	// Encode serializes a document.
	Encode(doc map[string]any) ([]byte, error)
}

// Patcher is implemented by codecs that can replace one top-level member in
// existing document bytes while leaving the rest of the text untouched.
type Patcher interface {
	Patch(current []byte, key string, value any) ([]byte, error)
}

// New returns the codec for the given format.
func New(f Format) (Codec, error) {
	switch f {
	case FormatJSON:
		return JSON(), nil
	case FormatJSONC:
		return JSONC(), nil
	case FormatYAML:
		return YAML(), nil
	case FormatTOML:
		return TOML(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// ForPath selects a codec from the file extension of path.
//
// Example:
//
//	c, err := codec.ForPath("~/.config/bettershare/storage.yaml") // YAML
func ForPath(path string) (Codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON(), nil
	case ".jsonc":
		return JSONC(), nil
	case ".yaml", ".yml":
		return YAML(), nil
	case ".toml":
		return TOML(), nil
	default:
		return nil, fmt.Errorf("%w: file %q", ErrUnknownFormat, path)
	}
}

// isBlank reports whether data holds nothing but whitespace.
func isBlank(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0
}
