package codec

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

type tomlCodec struct{}

// TOML returns a codec for TOML documents. TOML has no null, so documents
// containing nil values cannot be encoded.
func TOML() Codec {
	return tomlCodec{}
}

func (tomlCodec) Format() Format {
	return FormatTOML
}

func (tomlCodec) Decode(data []byte) (map[string]any, error) {
	if isBlank(data) {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (tomlCodec) Encode(doc map[string]any) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	if err := checkNil("", doc); err != nil {
		return nil, err
	}
	b, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode TOML: %w", err)
	}
	return b, nil
}

// checkNil rejects nil values anywhere in v.
func checkNil(path string, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("TOML does not support null values (at %q)", path)
	case map[string]any:
		for k, item := range val {
			if err := checkNil(path+"/"+k, item); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range val {
			if err := checkNil(fmt.Sprintf("%s/%d", path, i), item); err != nil {
				return err
			}
		}
	}
	return nil
}
