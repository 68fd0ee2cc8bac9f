package codec

import (
	"encoding/json"
	"fmt"
)

type jsonCodec struct{}

// JSON returns a codec for plain JSON documents, written indented with a
// trailing newline.
func JSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Format() Format {
	return FormatJSON
}

func (jsonCodec) Decode(data []byte) (map[string]any, error) {
	if isBlank(data) {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (jsonCodec) Encode(doc map[string]any) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return append(b, '\n'), nil
}
