package codec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type yamlCodec struct{}

// YAML returns a codec for YAML documents.
func YAML() Codec {
	return yamlCodec{}
}

func (yamlCodec) Format() Format {
	return FormatYAML
}

func (yamlCodec) Decode(data []byte) (map[string]any, error) {
	if isBlank(data) {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (yamlCodec) Encode(doc map[string]any) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return b, nil
}
