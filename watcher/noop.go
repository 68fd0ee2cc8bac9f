package watcher

import (
	"context"
	"sync"
)

// noopWatcher never reports anything. It suits storage that cannot change
// behind the process's back.
type noopWatcher struct {
	results chan Result

	mu      sync.Mutex
	running bool
}

// NewNoop creates a Watcher that never reports changes.
func NewNoop() Watcher {
	return &noopWatcher{}
}

func (w *noopWatcher) Type() Type {
	return TypeNoop
}

func (w *noopWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.results = make(chan Result)
	return nil
}

func (w *noopWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	close(w.results)
	return nil
}

func (w *noopWatcher) Results() <-chan Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.results
}
