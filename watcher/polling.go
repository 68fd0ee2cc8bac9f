package watcher

import (
	"context"
	"sync"
	"time"
)

// pollingWatcher implements Watcher by fetching at a fixed interval.
type pollingWatcher struct {
	fetch FetchFunc
	cfg   Config

	results chan Result
	stopCh  chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	running bool
}

// NewPolling creates a Watcher that calls fetch every PollInterval.
// The first successful fetch is always reported; later fetches are reported
// only when CompareFunc says the data changed.
func NewPolling(fetch FetchFunc, opts ...Option) Watcher {
	return &pollingWatcher{
		fetch: fetch,
		cfg:   NewConfig(opts...),
	}
}

func (w *pollingWatcher) Type() Type {
	return TypePolling
}

func (w *pollingWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.results = make(chan Result)
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(ctx, w.results, w.stopCh, w.done)
	return nil
}

func (w *pollingWatcher) loop(ctx context.Context, results chan<- Result, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(results)

	var last []byte
	seen := false
	for {
		started := time.Now()

		data, err := w.fetch(ctx)
		var res *Result
		switch {
		case err != nil:
			res = &Result{Err: err}
		case !seen || w.cfg.CompareFunc(last, data):
			seen = true
			last = data
			res = &Result{Data: data}
		}
		if res != nil {
			select {
			case results <- *res:
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}

		wait := w.cfg.PollInterval - time.Since(started)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		}
	}
}

func (w *pollingWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *pollingWatcher) Results() <-chan Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.results
}
