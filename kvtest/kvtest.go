// Package kvtest provides a conformance suite for kv.Backend implementations.
//
// Usage:
//
//	func TestBackend(t *testing.T) {
//		kvtest.New(t, func(t *testing.T) kv.Backend {
//			return mybackend.New(...)
//		}).TestAll()
//	}
package kvtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yacchi/bettershare/kv"
)

// Factory creates an empty backend. It is called once per test case.
type Factory func(t *testing.T) kv.Backend

// PeerFactory creates two handles on the same empty storage, as two processes
// would see it.
type PeerFactory func(t *testing.T) (a, b kv.Backend)

// Option configures a Tester.
type Option func(*Tester)

// WithPeer enables the cross-handle propagation tests.
func WithPeer(f PeerFactory) Option {
	return func(kt *Tester) {
		kt.peer = f
	}
}

// WithTimeout sets how long to wait for change notifications. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(kt *Tester) {
		kt.timeout = d
	}
}

// Tester runs the conformance tests.
type Tester struct {
	t       *testing.T
	factory Factory
	peer    PeerFactory
	timeout time.Duration
}

// New creates a Tester for backends produced by factory.
func New(t *testing.T, factory Factory, opts ...Option) *Tester {
	kt := &Tester{
		t:       t,
		factory: factory,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(kt)
	}
	return kt
}

// TestAll runs every conformance test.
func (kt *Tester) TestAll() {
	kt.t.Run("MissingKey", kt.testMissingKey)
	kt.t.Run("RoundTrip", kt.testRoundTrip)
	kt.t.Run("Overwrite", kt.testOverwrite)
	kt.t.Run("IndependentKeys", kt.testIndependentKeys)
	kt.t.Run("GetReturnsCopy", kt.testGetReturnsCopy)
	kt.t.Run("NotSerializable", kt.testNotSerializable)
	kt.t.Run("SelfEcho", kt.testSelfEcho)
	kt.t.Run("Unsubscribe", kt.testUnsubscribe)
	kt.t.Run("Close", kt.testClose)
	kt.t.Run("Peer", kt.testPeer)
}

func (kt *Tester) open(t *testing.T) kv.Backend {
	t.Helper()
	b := kt.factory(t)
	require(t, b != nil, "factory returned nil backend")
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func sampleRecord() map[string]any {
	return map[string]any{
		"version":   "1",
		"reddit":    "rxddit",
		"x":         "twittpr",
		"instagram": "ddinstagram",
		"count":     float64(2),
		"tags":      []any{"a", "b"},
		"enabled":   true,
	}
}

func (kt *Tester) testMissingKey(t *testing.T) {
	b := kt.open(t)

	v, found, err := b.Get(context.Background(), "missing")
	requireNoError(t, err, "Get() error = %v", err)
	check(t, !found, "Get() found = true for missing key")
	check(t, v == nil, "Get() value = %v for missing key, want nil", v)
}

func (kt *Tester) testRoundTrip(t *testing.T) {
	b := kt.open(t)
	ctx := context.Background()

	err := b.Set(ctx, "preferences", sampleRecord())
	requireNoError(t, err, "Set() error = %v", err)

	v, found, err := b.Get(ctx, "preferences")
	requireNoError(t, err, "Get() error = %v", err)
	require(t, found, "Get() found = false after Set")
	if diff := cmp.Diff(any(sampleRecord()), v); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	// Values are normalized: Go structs come back as maps.
	type pref struct {
		Version string `json:"version"`
	}
	err = b.Set(ctx, "struct", pref{Version: "1"})
	requireNoError(t, err, "Set(struct) error = %v", err)
	v, found, err = b.Get(ctx, "struct")
	requireNoError(t, err, "Get(struct) error = %v", err)
	require(t, found, "Get(struct) found = false")
	if diff := cmp.Diff(any(map[string]any{"version": "1"}), v); diff != "" {
		t.Errorf("Get(struct) mismatch (-want +got):\n%s", diff)
	}
}

func (kt *Tester) testOverwrite(t *testing.T) {
	b := kt.open(t)
	ctx := context.Background()

	requireNoError(t, b.Set(ctx, "k", "first"), "Set(first) failed")
	requireNoError(t, b.Set(ctx, "k", "second"), "Set(second) failed")

	v, found, err := b.Get(ctx, "k")
	requireNoError(t, err, "Get() error = %v", err)
	require(t, found, "Get() found = false")
	check(t, v == "second", "Get() = %v, want second", v)
}

func (kt *Tester) testIndependentKeys(t *testing.T) {
	b := kt.open(t)
	ctx := context.Background()

	requireNoError(t, b.Set(ctx, "a", "1"), "Set(a) failed")
	requireNoError(t, b.Set(ctx, "b", "2"), "Set(b) failed")

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		v, found, err := b.Get(ctx, key)
		requireNoError(t, err, "Get(%s) error = %v", key, err)
		check(t, found && v == want, "Get(%s) = %v, %v; want %s", key, v, found, want)
	}
}

func (kt *Tester) testGetReturnsCopy(t *testing.T) {
	b := kt.open(t)
	ctx := context.Background()

	in := sampleRecord()
	requireNoError(t, b.Set(ctx, "k", in), "Set() failed")
	in["reddit"] = "mutated input"

	v, _, err := b.Get(ctx, "k")
	requireNoError(t, err, "Get() error = %v", err)
	m, ok := v.(map[string]any)
	require(t, ok, "Get() = %T, want map[string]any", v)
	check(t, m["reddit"] == "rxddit", "stored value changed with Set input: %v", m["reddit"])
	m["reddit"] = "mutated output"

	v, _, err = b.Get(ctx, "k")
	requireNoError(t, err, "Get() error = %v", err)
	check(t, v.(map[string]any)["reddit"] == "rxddit", "stored value changed with Get result")
}

func (kt *Tester) testNotSerializable(t *testing.T) {
	b := kt.open(t)

	err := b.Set(context.Background(), "k", map[string]any{"fn": func() {}})
	check(t, errors.Is(err, kv.ErrNotSerializable), "Set() error = %v, want ErrNotSerializable", err)

	_, found, err := b.Get(context.Background(), "k")
	requireNoError(t, err, "Get() error = %v", err)
	check(t, !found, "failed Set stored a value")
}

func (kt *Tester) testSelfEcho(t *testing.T) {
	b := kt.open(t)
	ctx := context.Background()

	changes := make(chan kv.Change, 16)
	unsubscribe, err := b.Subscribe("preferences", func(c kv.Change) { changes <- c })
	requireNoError(t, err, "Subscribe() error = %v", err)
	defer unsubscribe()

	requireNoError(t, b.Set(ctx, "preferences", sampleRecord()), "Set() failed")

	c, ok := kt.waitFor(changes, func(c kv.Change) bool { return c.NewValue != nil })
	require(t, ok, "no change delivered for own Set")
	check(t, c.Key == "preferences", "Change.Key = %q", c.Key)
	if diff := cmp.Diff(any(sampleRecord()), c.NewValue); diff != "" {
		t.Errorf("Change.NewValue mismatch (-want +got):\n%s", diff)
	}

	requireNoError(t, b.Set(ctx, "other", "x"), "Set(other) failed")
	c, ok = kt.waitFor(changes, func(c kv.Change) bool { return c.Key != "preferences" }, 100*time.Millisecond)
	check(t, !ok, "change for another key delivered: %+v", c)
}

func (kt *Tester) testUnsubscribe(t *testing.T) {
	b := kt.open(t)

	changes := make(chan kv.Change, 16)
	unsubscribe, err := b.Subscribe("k", func(c kv.Change) { changes <- c })
	requireNoError(t, err, "Subscribe() error = %v", err)
	unsubscribe()
	unsubscribe()

	requireNoError(t, b.Set(context.Background(), "k", "v"), "Set() failed")
	c, ok := kt.waitFor(changes, func(kv.Change) bool { return true }, 100*time.Millisecond)
	check(t, !ok, "change delivered after unsubscribe: %+v", c)
}

func (kt *Tester) testClose(t *testing.T) {
	b := kt.factory(t)
	require(t, b != nil, "factory returned nil backend")

	_, err := b.Subscribe("k", func(kv.Change) {})
	requireNoError(t, err, "Subscribe() error = %v", err)

	requireNoError(t, b.Close(), "Close() failed")
	requireNoError(t, b.Close(), "second Close() failed")
}

func (kt *Tester) testPeer(t *testing.T) {
	if kt.peer == nil {
		t.Skip("no PeerFactory configured")
	}
	a, b := kt.peer(t)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	ctx := context.Background()

	changes := make(chan kv.Change, 16)
	unsubscribe, err := a.Subscribe("preferences", func(c kv.Change) { changes <- c })
	requireNoError(t, err, "Subscribe() error = %v", err)
	defer unsubscribe()

	requireNoError(t, b.Set(ctx, "preferences", sampleRecord()), "peer Set() failed")

	c, ok := kt.waitFor(changes, func(c kv.Change) bool { return c.NewValue != nil })
	require(t, ok, "change made through peer not delivered")
	if diff := cmp.Diff(any(sampleRecord()), c.NewValue); diff != "" {
		t.Errorf("Change.NewValue mismatch (-want +got):\n%s", diff)
	}

	v, found, err := a.Get(ctx, "preferences")
	requireNoError(t, err, "Get() error = %v", err)
	require(t, found, "value written by peer not found")
	if diff := cmp.Diff(any(sampleRecord()), v); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

// waitFor returns the first change accepted by match, waiting up to the
// tester timeout or the given override.
func (kt *Tester) waitFor(ch <-chan kv.Change, match func(kv.Change) bool, timeout ...time.Duration) (kv.Change, bool) {
	d := kt.timeout
	if len(timeout) > 0 {
		d = timeout[0]
	}
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		select {
		case c := <-ch:
			if match(c) {
				return c, true
			}
		case <-deadline.C:
			return kv.Change{}, false
		}
	}
}
