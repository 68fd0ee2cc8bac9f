// Package keyring provides a kv.Backend on top of the operating system's
// credential store (macOS Keychain, Secret Service, Windows Credential
// Manager). Each key is one item under a common service name whose secret is
// the JSON-encoded value.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/yacchi/bettershare/kv"
)

// DefaultService is the service name used when none is configured.
const DefaultService = "bettershare"

// DefaultPollInterval is how often the keyring is checked for changes made
// by other processes.
const DefaultPollInterval = 5 * time.Second

// keyringMu serializes access to the keyring provider, which is process-wide.
var keyringMu sync.Mutex

// Store is a kv.Backend backed by the OS keyring.
type Store struct {
	service      string
	pollInterval time.Duration
	nopts        []kv.NotifierOption

	notifier *kv.Notifier

	mu     sync.Mutex
	closed bool
}

var _ kv.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithService sets the keyring service name. Default "bettershare".
func WithService(name string) Option {
	return func(s *Store) {
		s.service = name
	}
}

// WithPollInterval sets how often other processes' changes are looked for.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		s.pollInterval = d
	}
}

// WithNotifierOptions configures change detection.
func WithNotifierOptions(opts ...kv.NotifierOption) Option {
	return func(s *Store) {
		s.nopts = append(s.nopts, opts...)
	}
}

// New creates a keyring Store.
func New(opts ...Option) *Store {
	s := &Store{
		service:      DefaultService,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.notifier = kv.NewNotifier(s.snapshot, kv.PollingWatcher(s.pollInterval), s.nopts...)
	return s
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get implements kv.KeyValueStore.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.isClosed() {
		return nil, false, kv.ErrClosed
	}
	return s.get(key)
}

func (s *Store) get(key string) (any, bool, error) {
	keyringMu.Lock()
	secret, err := keyring.Get(s.service, key)
	keyringMu.Unlock()

	if errors.Is(err, keyring.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read keyring item %q/%q: %w", s.service, key, err)
	}
	v, err := kv.Decode(secret)
	if err != nil {
		return nil, false, fmt.Errorf("keyring item %q/%q: %w", s.service, key, err)
	}
	return v, true, nil
}

// Set implements kv.KeyValueStore.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	n, err := kv.Normalize(value)
	if err != nil {
		return err
	}
	secret, err := kv.Encode(n)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return kv.ErrClosed
	}

	keyringMu.Lock()
	err = keyring.Set(s.service, key, secret)
	keyringMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write keyring item %q/%q: %w", s.service, key, err)
	}
	s.notifier.Written(key, n)
	return nil
}

// Subscribe implements kv.ChangeNotifier.
func (s *Store) Subscribe(key string, handler kv.ChangeHandler) (func(), error) {
	if s.isClosed() {
		return nil, kv.ErrClosed
	}
	return s.notifier.Subscribe(key, handler)
}

// Close stops change detection. Keyring items are left in place.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.notifier.Close()
}

func (s *Store) snapshot(ctx context.Context, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, found, err := s.get(k)
		if err != nil {
			return nil, err
		}
		if found {
			out[k] = v
		}
	}
	return out, nil
}
