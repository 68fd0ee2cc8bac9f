package decoder

import (
	"strings"
	"testing"
)

type jsonTarget struct {
	Reddit string `json:"reddit"`
}

func TestJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		want    string
		wantErr string
	}{
		{name: "success", input: map[string]any{"reddit": "rxddit"}, want: "rxddit"},
		{name: "empty", input: map[string]any{}},
		{name: "not encodable", input: map[string]any{"reddit": func() {}}, wantErr: "failed to encode record"},
		{name: "type mismatch", input: map[string]any{"reddit": 42.0}, wantErr: "failed to decode record"},
		{name: "unknown field", input: map[string]any{"reddit": "rxddit", "mastodon": "x"}, wantErr: "failed to decode record"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst jsonTarget
			err := JSON(tt.input, &dst)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("JSON() error = %v, want to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("JSON() error = %v", err)
			}
			if dst.Reddit != tt.want {
				t.Errorf("decoded value = %q, want %q", dst.Reddit, tt.want)
			}
		})
	}
}
