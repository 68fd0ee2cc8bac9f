package kv_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/yacchi/bettershare/kv"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type record struct {
	Version string `json:"version"`
	Reddit  string `json:"reddit"`
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string", "x", "x"},
		{"int", 3, float64(3)},
		{"struct", record{Version: "1", Reddit: "rxddit"}, map[string]any{"version": "1", "reddit": "rxddit"}},
		{"nested", map[string]any{"a": []int{1, 2}}, map[string]any{"a": []any{float64(1), float64(2)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := kv.Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_NotSerializable(t *testing.T) {
	for name, v := range map[string]any{
		"func": func() {},
		"chan": make(chan int),
		"nan":  math.NaN(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Normalize(v)
			if !errors.Is(err, kv.ErrNotSerializable) {
				t.Errorf("Normalize() error = %v, want ErrNotSerializable", err)
			}
		})
	}
}

func TestNormalize_DoesNotAlias(t *testing.T) {
	in := map[string]any{"inner": map[string]any{"k": "v"}}
	out, err := kv.Normalize(in)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	in["inner"].(map[string]any)["k"] = "changed"
	if got := out.(map[string]any)["inner"].(map[string]any)["k"]; got != "v" {
		t.Errorf("normalized value changed with input: %v", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	s, err := kv.Encode(map[string]any{"version": "1"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if s != `{"version":"1"}` {
		t.Errorf("Encode() = %s", s)
	}
	v, err := kv.Decode(s)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(map[string]any{"version": "1"}, v); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
	if _, err := kv.Decode("{"); err == nil {
		t.Error("Decode() expected error for truncated input")
	}
}

func TestBroadcaster(t *testing.T) {
	var b kv.Broadcaster
	var got []string

	unsubA, _ := b.Subscribe("k", func(c kv.Change) { got = append(got, "a:"+c.NewValue.(string)) })
	unsubB, _ := b.Subscribe("k", func(c kv.Change) { got = append(got, "b:"+c.NewValue.(string)) })
	_, _ = b.Subscribe("other", func(c kv.Change) { got = append(got, "other") })

	b.Publish(kv.Change{Key: "k", NewValue: "1"})
	unsubA()
	unsubA()
	b.Publish(kv.Change{Key: "k", NewValue: "2"})
	unsubB()
	b.Publish(kv.Change{Key: "k", NewValue: "3"})

	want := []string{"a:1", "b:1", "b:2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("handler calls mismatch (-want +got):\n%s", diff)
	}
	if n := b.Len("k"); n != 0 {
		t.Errorf("Len(k) = %d, want 0", n)
	}
	if keys := b.Keys(); len(keys) != 1 || keys[0] != "other" {
		t.Errorf("Keys() = %v, want [other]", keys)
	}
}

func TestBroadcaster_UnsubscribeDuringPublish(t *testing.T) {
	var b kv.Broadcaster
	calls := 0
	var unsub func()
	unsub, _ = b.Subscribe("k", func(kv.Change) {
		calls++
		unsub()
	})

	b.Publish(kv.Change{Key: "k"})
	b.Publish(kv.Change{Key: "k"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
