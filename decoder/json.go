package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON decodes strictly: type mismatches and fields target does not declare
// are errors. Use Mapstructure for lenient decoding.
func JSON(m map[string]any, target any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	dec := json.NewDecoder(&buf)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}
