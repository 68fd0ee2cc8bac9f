package memory

// copyValue returns v with every nested object and array copied, so values
// handed out by Get or published to subscribers never alias the stored
// document. Stored values are normalized, so objects and arrays are always
// map[string]any and []any.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
