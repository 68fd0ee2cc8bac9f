// Package watcher detects changes in backing storage, either by polling or by
// subscribing to change events, and reports the latest data on a channel.
package watcher

import (
	"bytes"
	"context"
	"time"
)

// DefaultPollInterval is the default polling interval for change detection.
const DefaultPollInterval = 30 * time.Second

// Type identifies a watcher implementation.
type Type string

// Standard watcher types.
const (
	TypePolling      Type = "polling"
	TypeSubscription Type = "subscription"
	TypeNoop         Type = "noop"
)

// Result is one observation from a watcher.
type Result struct {
	// Data is the latest snapshot. Set only when a change was detected.
	Data []byte

	// Err is set when fetching or subscribing failed.
	Err error
}

// Watcher watches for changes and reports them via Results.
type Watcher interface {
	// Type returns the watcher type identifier.
	Type() Type

	// Start begins watching. Calling Start on a running watcher is a no-op.
	Start(ctx context.Context) error

	// Stop stops watching and releases resources. Results is closed once
	// the watcher has fully stopped. Stop is idempotent.
	Stop(ctx context.Context) error

	// Results returns the result channel. It is nil before Start.
	Results() <-chan Result
}

// FetchFunc reads the current snapshot of the watched data.
type FetchFunc func(ctx context.Context) ([]byte, error)

// CompareFunc reports whether two snapshots differ.
type CompareFunc func(old, new []byte) bool

// DefaultCompareFunc compares snapshots byte by byte.
func DefaultCompareFunc(old, new []byte) bool {
	return !bytes.Equal(old, new)
}

// Config configures watcher behavior.
type Config struct {
	// PollInterval is the interval between fetches of a polling watcher.
	PollInterval time.Duration

	// CompareFunc detects changes between snapshots.
	CompareFunc CompareFunc
}

// Option is a functional option for Config.
type Option func(*Config)

// WithPollInterval sets the polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithCompareFunc sets the comparison function for change detection.
func WithCompareFunc(f CompareFunc) Option {
	return func(c *Config) {
		c.CompareFunc = f
	}
}

// NewConfig builds a Config from options.
// Defaults: PollInterval=30s, CompareFunc=DefaultCompareFunc.
func NewConfig(opts ...Option) Config {
	cfg := Config{
		PollInterval: DefaultPollInterval,
		CompareFunc:  DefaultCompareFunc,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CompareFunc == nil {
		cfg.CompareFunc = DefaultCompareFunc
	}
	return cfg
}
