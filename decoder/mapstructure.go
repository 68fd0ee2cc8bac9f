package decoder

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Mapstructure decodes with github.com/mitchellh/mapstructure using weak typing
// and the target's json struct tags.
//
// Decoding continues past fields that cannot be converted; those fields keep
// their zero value and the collected problems are returned as one error.
func Mapstructure(m map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("failed to decode map: %w", err)
	}
	return nil
}
