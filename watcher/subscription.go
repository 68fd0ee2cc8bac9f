package watcher

import (
	"context"
	"sync"
)

// NotifyFunc is called by a SubscriptionHandler when something happened:
//   - notify(data, nil): push-style, data is the new snapshot
//   - notify(nil, err):  an error occurred
//   - notify(nil, nil):  event only; the watcher fetches the snapshot itself
type NotifyFunc func(data []byte, err error)

// StopFunc ends a subscription.
type StopFunc func(ctx context.Context) error

// SubscriptionHandler registers for change events.
type SubscriptionHandler interface {
	Subscribe(ctx context.Context, notify NotifyFunc) (StopFunc, error)
}

// SubscriptionHandlerFunc adapts a function to SubscriptionHandler.
type SubscriptionHandlerFunc func(ctx context.Context, notify NotifyFunc) (StopFunc, error)

// Subscribe implements SubscriptionHandler.
func (f SubscriptionHandlerFunc) Subscribe(ctx context.Context, notify NotifyFunc) (StopFunc, error) {
	return f(ctx, notify)
}

// subscriptionWatcher implements Watcher on top of a SubscriptionHandler.
type subscriptionWatcher struct {
	handler SubscriptionHandler
	fetch   FetchFunc
	cfg     Config

	results chan Result
	stopCh  chan struct{}
	stopFn  StopFunc

	// last is the most recently reported snapshot, used to drop event-only
	// notifications that did not change anything.
	last []byte
	seen bool

	mu       sync.Mutex
	notifyMu sync.Mutex
	running  bool
}

// NewSubscription creates an event-driven Watcher. fetch is used for
// event-only notifications and may be nil when the handler always pushes data.
func NewSubscription(handler SubscriptionHandler, fetch FetchFunc, opts ...Option) Watcher {
	return &subscriptionWatcher{
		handler: handler,
		fetch:   fetch,
		cfg:     NewConfig(opts...),
	}
}

func (w *subscriptionWatcher) Type() Type {
	return TypeSubscription
}

func (w *subscriptionWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.results = make(chan Result)
	w.stopCh = make(chan struct{})
	results, stopCh := w.results, w.stopCh
	w.mu.Unlock()

	if w.fetch != nil {
		// Baseline so that the first event-only notification is compared
		// against the state at Start rather than always reported.
		if data, err := w.fetch(ctx); err == nil {
			w.last, w.seen = data, true
		}
	}

	notify := func(data []byte, err error) {
		// Serialize notifications so snapshots are compared in order.
		w.notifyMu.Lock()
		defer w.notifyMu.Unlock()

		select {
		case <-stopCh:
			return
		default:
		}

		if data == nil && err == nil {
			if w.fetch == nil {
				return
			}
			data, err = w.fetch(ctx)
		}
		if err == nil {
			if w.seen && !w.cfg.CompareFunc(w.last, data) {
				return
			}
			w.last, w.seen = data, true
		}

		select {
		case results <- Result{Data: data, Err: err}:
		case <-ctx.Done():
		case <-stopCh:
		}
	}

	stop, err := w.handler.Subscribe(ctx, notify)
	if err != nil {
		w.mu.Lock()
		w.running = false
		close(w.stopCh)
		close(w.results)
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.stopFn = stop
	w.mu.Unlock()
	return nil
}

func (w *subscriptionWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	stop := w.stopFn
	w.stopFn = nil
	w.mu.Unlock()

	var err error
	if stop != nil {
		err = stop(ctx)
	}

	// Wait for an in-flight notify to observe stopCh before closing results.
	w.notifyMu.Lock()
	close(w.results)
	w.notifyMu.Unlock()

	return err
}

func (w *subscriptionWatcher) Results() <-chan Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.results
}
