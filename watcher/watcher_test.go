package watcher_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/yacchi/bettershare/watcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, ch <-chan watcher.Result) watcher.Result {
	t.Helper()
	select {
	case r, ok := <-ch:
		if !ok {
			t.Fatal("results channel closed")
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for result")
	}
	return watcher.Result{}
}

func expectNone(t *testing.T, ch <-chan watcher.Result, d time.Duration) {
	t.Helper()
	select {
	case r, ok := <-ch:
		if ok {
			t.Fatalf("unexpected result: data=%q err=%v", r.Data, r.Err)
		}
	case <-time.After(d):
	}
}

func TestNewConfig(t *testing.T) {
	cfg := watcher.NewConfig()
	if cfg.PollInterval != watcher.DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, watcher.DefaultPollInterval)
	}
	if cfg.CompareFunc == nil {
		t.Error("CompareFunc = nil, want default")
	}

	cfg = watcher.NewConfig(watcher.WithPollInterval(-1), watcher.WithCompareFunc(nil))
	if cfg.PollInterval != watcher.DefaultPollInterval {
		t.Errorf("PollInterval = %v, want default for non-positive", cfg.PollInterval)
	}
	if cfg.CompareFunc == nil {
		t.Error("CompareFunc = nil, want default")
	}
}

func TestDefaultCompareFunc(t *testing.T) {
	if watcher.DefaultCompareFunc([]byte("a"), []byte("a")) {
		t.Error("equal data reported as changed")
	}
	if !watcher.DefaultCompareFunc([]byte("a"), []byte("b")) {
		t.Error("different data reported as unchanged")
	}
}

func TestPolling(t *testing.T) {
	var mu sync.Mutex
	current := []byte("v1")
	fetch := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, nil
	}

	w := watcher.NewPolling(fetch, watcher.WithPollInterval(10*time.Millisecond))
	if w.Type() != watcher.TypePolling {
		t.Errorf("Type() = %q, want %q", w.Type(), watcher.TypePolling)
	}
	if w.Results() != nil {
		t.Error("Results() before Start should be nil")
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if r := receive(t, w.Results()); string(r.Data) != "v1" {
		t.Fatalf("first result = %q, want v1", r.Data)
	}
	expectNone(t, w.Results(), 50*time.Millisecond)

	mu.Lock()
	current = []byte("v2")
	mu.Unlock()

	if r := receive(t, w.Results()); string(r.Data) != "v2" {
		t.Fatalf("changed result = %q, want v2", r.Data)
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if _, ok := <-w.Results(); ok {
		t.Error("Results() should be closed after Stop")
	}
}

func TestPolling_Error(t *testing.T) {
	fetchErr := errors.New("boom")
	w := watcher.NewPolling(func(ctx context.Context) ([]byte, error) {
		return nil, fetchErr
	}, watcher.WithPollInterval(10*time.Millisecond))

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(ctx)

	if r := receive(t, w.Results()); !errors.Is(r.Err, fetchErr) {
		t.Fatalf("result error = %v, want %v", r.Err, fetchErr)
	}
}

func TestPolling_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := watcher.NewPolling(func(ctx context.Context) ([]byte, error) {
		return []byte("x"), nil
	}, watcher.WithPollInterval(time.Hour))

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	receive(t, w.Results())
	cancel()

	select {
	case _, ok := <-w.Results():
		if ok {
			t.Fatal("unexpected result after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("results not closed after context cancel")
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

type fakeHandler struct {
	mu      sync.Mutex
	notify  watcher.NotifyFunc
	stopped atomic.Bool
	err     error
}

func (h *fakeHandler) Subscribe(ctx context.Context, notify watcher.NotifyFunc) (watcher.StopFunc, error) {
	if h.err != nil {
		return nil, h.err
	}
	h.mu.Lock()
	h.notify = notify
	h.mu.Unlock()
	return func(ctx context.Context) error {
		h.stopped.Store(true)
		return nil
	}, nil
}

func (h *fakeHandler) fire(data []byte, err error) {
	h.mu.Lock()
	n := h.notify
	h.mu.Unlock()
	n(data, err)
}

func TestSubscription_Push(t *testing.T) {
	h := &fakeHandler{}
	w := watcher.NewSubscription(h, nil)
	if w.Type() != watcher.TypeSubscription {
		t.Errorf("Type() = %q, want %q", w.Type(), watcher.TypeSubscription)
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	go h.fire([]byte("pushed"), nil)
	if r := receive(t, w.Results()); string(r.Data) != "pushed" {
		t.Fatalf("result = %q, want pushed", r.Data)
	}

	notifyErr := errors.New("watch failed")
	go h.fire(nil, notifyErr)
	if r := receive(t, w.Results()); !errors.Is(r.Err, notifyErr) {
		t.Fatalf("result error = %v, want %v", r.Err, notifyErr)
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !h.stopped.Load() {
		t.Error("handler stop func was not called")
	}

	// Late notifications after Stop are dropped instead of panicking.
	h.fire([]byte("late"), nil)
}

func TestSubscription_EventOnly(t *testing.T) {
	var mu sync.Mutex
	current := []byte("v1")
	fetch := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, nil
	}

	h := &fakeHandler{}
	w := watcher.NewSubscription(h, fetch)
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(ctx)

	// Unchanged since Start: suppressed.
	go h.fire(nil, nil)
	expectNone(t, w.Results(), 50*time.Millisecond)

	mu.Lock()
	current = []byte("v2")
	mu.Unlock()

	go h.fire(nil, nil)
	if r := receive(t, w.Results()); string(r.Data) != "v2" {
		t.Fatalf("result = %q, want v2", r.Data)
	}
}

func TestSubscription_SubscribeError(t *testing.T) {
	subErr := errors.New("cannot subscribe")
	w := watcher.NewSubscription(&fakeHandler{err: subErr}, nil)

	if err := w.Start(context.Background()); !errors.Is(err, subErr) {
		t.Fatalf("Start() error = %v, want %v", err, subErr)
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() after failed Start error = %v", err)
	}
}

func TestNoop(t *testing.T) {
	w := watcher.NewNoop()
	if w.Type() != watcher.TypeNoop {
		t.Errorf("Type() = %q, want %q", w.Type(), watcher.TypeNoop)
	}
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expectNone(t, w.Results(), 20*time.Millisecond)
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, ok := <-w.Results(); ok {
		t.Error("Results() should be closed after Stop")
	}
}
