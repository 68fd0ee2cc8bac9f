package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/yacchi/bettershare/watcher"
)

// DefaultDebounceDelay is how long the Notifier waits for further watcher
// results before comparing snapshots.
const DefaultDebounceDelay = 100 * time.Millisecond

// SnapshotFunc reads the current values of keys. Keys that do not exist are
// left out of the returned map.
type SnapshotFunc func(ctx context.Context, keys []string) (map[string]any, error)

// WatcherFactory builds the watcher a Notifier uses to detect changes made
// outside the process. opts must be passed through to the watcher.
type WatcherFactory func(fetch watcher.FetchFunc, opts ...watcher.Option) watcher.Watcher

// PollingWatcher returns a WatcherFactory that polls every interval.
func PollingWatcher(interval time.Duration) WatcherFactory {
	return func(fetch watcher.FetchFunc, opts ...watcher.Option) watcher.Watcher {
		opts = append([]watcher.Option{watcher.WithPollInterval(interval)}, opts...)
		return watcher.NewPolling(fetch, opts...)
	}
}

// NotifierOption configures a Notifier.
type NotifierOption func(*notifierConfig)

type notifierConfig struct {
	debounce time.Duration
	onError  func(error)
}

// WithDebounceDelay sets how long to wait for additional changes before
// publishing. Zero publishes every watcher result immediately.
func WithDebounceDelay(d time.Duration) NotifierOption {
	return func(c *notifierConfig) {
		c.debounce = d
	}
}

// WithErrorHandler sets a callback for errors reported by the watcher.
// If nil, such errors are dropped.
func WithErrorHandler(fn func(error)) NotifierOption {
	return func(c *notifierConfig) {
		c.onError = fn
	}
}

// Notifier implements ChangeNotifier for backends whose storage can be
// modified by other processes. It remembers the last value seen for every
// subscribed key, publishes own writes reported through Written, and runs a
// watcher (started by the first Subscribe) that publishes the differences it
// finds.
type Notifier struct {
	b          Broadcaster
	snapshot   SnapshotFunc
	newWatcher WatcherFactory
	cfg        notifierConfig

	// startMu serializes watcher startup.
	startMu sync.Mutex

	mu      sync.Mutex
	last    map[string]any
	tracked map[string]bool

	// seq counts own writes. writes holds the seq of the latest write per
	// key and observed the seq at the start of the latest finished fetch;
	// snapshot data older than a write is not trusted for that key.
	seq      uint64
	writes   map[string]uint64
	observed uint64
	stale    bool

	w      watcher.Watcher
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewNotifier creates a Notifier. snapshot reads current values and
// newWatcher creates the change detector.
func NewNotifier(snapshot SnapshotFunc, newWatcher WatcherFactory, opts ...NotifierOption) *Notifier {
	cfg := notifierConfig{debounce: DefaultDebounceDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Notifier{
		snapshot:   snapshot,
		newWatcher: newWatcher,
		cfg:        cfg,
		last:       make(map[string]any),
		tracked:    make(map[string]bool),
		writes:     make(map[string]uint64),
	}
}

// Subscribe implements ChangeNotifier. The first subscription to a key reads
// its current value so later changes can be detected.
func (n *Notifier) Subscribe(key string, handler ChangeHandler) (func(), error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	needPrime := !n.tracked[key]
	n.mu.Unlock()

	if needPrime {
		if err := n.prime(key); err != nil {
			return nil, err
		}
	}

	unsubscribe, err := n.b.Subscribe(key, handler)
	if err != nil {
		return nil, err
	}
	if err := n.ensureWatching(); err != nil {
		unsubscribe()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			if n.b.Len(key) == 0 {
				n.mu.Lock()
				delete(n.tracked, key)
				delete(n.last, key)
				n.mu.Unlock()
			}
		})
	}, nil
}

func (n *Notifier) prime(key string) error {
	snap, err := n.snapshot(context.Background(), []string{key})
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", key, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tracked[key] {
		return nil
	}
	n.tracked[key] = true
	if v, ok := snap[key]; ok {
		n.last[key] = v
	} else {
		delete(n.last, key)
	}
	return nil
}

// ensureWatching starts the watcher once. n.mu is not held across Start
// because watchers may fetch synchronously while starting.
func (n *Notifier) ensureWatching() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()

	n.mu.Lock()
	closed, running := n.closed, n.w != nil
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := n.newWatcher(n.fetch, watcher.WithCompareFunc(n.changed))
	if err := w.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		cancel()
		return errors.Join(ErrClosed, w.Stop(context.Background()))
	}
	n.w = w
	n.cancel = cancel
	n.done = make(chan struct{})
	go n.loop(ctx, w.Results(), n.done)
	n.mu.Unlock()
	return nil
}

// Written records a successful write by this process and publishes it.
// value must already be normalized.
func (n *Notifier) Written(key string, value any) {
	n.Publish(n.Record(key, value))
}

// Record notes a successful write by this process without publishing it and
// returns the Change to pass to Publish. Backends that serialize writes call
// Record under their write lock and Publish after releasing it, so handlers
// may write again.
func (n *Notifier) Record(key string, value any) Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	n.writes[key] = n.seq
	old := n.last[key]
	if n.tracked[key] {
		n.last[key] = value
	}
	return Change{Key: key, OldValue: old, NewValue: value}
}

// Publish delivers c to the subscribers of c.Key.
func (n *Notifier) Publish(c Change) {
	n.b.Publish(c)
}

// Close stops the watcher. Subscriptions made afterwards fail with ErrClosed.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	w, cancel, done := n.w, n.cancel, n.done
	n.mu.Unlock()

	if w == nil {
		return nil
	}
	cancel()
	err := w.Stop(context.Background())
	<-done
	return err
}

func (n *Notifier) fetch(ctx context.Context) ([]byte, error) {
	n.mu.Lock()
	start := n.seq
	keys := make([]string, 0, len(n.tracked))
	for k := range n.tracked {
		keys = append(keys, k)
	}
	n.mu.Unlock()

	sort.Strings(keys)
	snap, err := n.snapshot(ctx, keys)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if start > n.observed {
		n.observed = start
	}
	n.mu.Unlock()

	// encoding/json sorts map keys, so equal snapshots encode identically.
	return json.Marshal(snapshotDoc{Keys: keys, Values: snap})
}

// changed forces a result while a key is waiting for a snapshot newer than
// its last own write.
func (n *Notifier) changed(old, new []byte) bool {
	n.mu.Lock()
	stale := n.stale
	n.mu.Unlock()
	return stale || !bytes.Equal(old, new)
}

// loop debounces watcher results the same way for every backend.
func (n *Notifier) loop(ctx context.Context, results <-chan watcher.Result, done chan<- struct{}) {
	defer close(done)

	var timer *time.Timer
	var pending []byte
	hasPending := false

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer()
			return

		case r, ok := <-results:
			if !ok {
				stopTimer()
				return
			}
			if r.Err != nil {
				n.reportError(r.Err)
				continue
			}
			if n.cfg.debounce <= 0 {
				n.apply(r.Data)
				continue
			}
			pending, hasPending = r.Data, true
			stopTimer()
			timer = time.NewTimer(n.cfg.debounce)

		case <-timerC:
			timer = nil
			if hasPending {
				n.apply(pending)
				pending, hasPending = nil, false
			}
		}
	}
}

// snapshotDoc is the watcher payload. Keys lists what was read, so a key
// that is absent from Values is known to be missing.
type snapshotDoc struct {
	Keys   []string       `json:"keys"`
	Values map[string]any `json:"values"`
}

func (n *Notifier) apply(data []byte) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		n.reportError(fmt.Errorf("failed to decode snapshot: %w", err))
		return
	}
	snap := doc.Values
	fetchedKeys := make(map[string]struct{}, len(doc.Keys))
	for _, k := range doc.Keys {
		fetchedKeys[k] = struct{}{}
	}

	var changes []Change
	n.mu.Lock()
	stale := false
	for key := range n.tracked {
		if _, fetched := fetchedKeys[key]; !fetched {
			continue
		}
		if n.writes[key] > n.observed {
			stale = true
			continue
		}
		newValue, has := snap[key]
		oldValue, had := n.last[key]
		if has == had && reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		if has {
			n.last[key] = newValue
		} else {
			delete(n.last, key)
		}
		changes = append(changes, Change{Key: key, OldValue: oldValue, NewValue: newValue})
	}
	n.stale = stale
	n.mu.Unlock()

	for _, c := range changes {
		n.b.Publish(c)
	}
}

func (n *Notifier) reportError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if n.cfg.onError != nil {
		n.cfg.onError(err)
	}
}
