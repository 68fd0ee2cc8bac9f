package kv

import (
	"sync"
)

// handlerEntry wraps a handler with a unique ID for reliable unsubscription.
type handlerEntry struct {
	id uint64
	fn ChangeHandler
}

// Broadcaster fans change events out to per-key handlers.
// The zero value is ready to use.
type Broadcaster struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   uint64
}

// Subscribe implements ChangeNotifier.
func (b *Broadcaster) Subscribe(key string, handler ChangeHandler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers == nil {
		b.handlers = make(map[string][]handlerEntry)
	}
	b.nextID++
	id := b.nextID
	b.handlers[key] = append(b.handlers[key], handlerEntry{id: id, fn: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[key]
		for i, e := range entries {
			if e.id == id {
				b.handlers[key] = append(entries[:i:i], entries[i+1:]...)
				if len(b.handlers[key]) == 0 {
					delete(b.handlers, key)
				}
				return
			}
		}
	}, nil
}

// Publish calls every handler subscribed to c.Key.
// Handlers are snapshotted first and called without holding the lock, so a
// handler may subscribe or unsubscribe while being called.
func (b *Broadcaster) Publish(c Change) {
	b.mu.RLock()
	entries := append([]handlerEntry(nil), b.handlers[c.Key]...)
	b.mu.RUnlock()

	for _, e := range entries {
		e.fn(c)
	}
}

// Keys returns the keys that currently have at least one subscriber.
func (b *Broadcaster) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.handlers))
	for k := range b.handlers {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of handlers subscribed to key.
func (b *Broadcaster) Len(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[key])
}
