// Package kv defines the key-value storage contract that preference stores are
// built on, together with helpers shared by the backend implementations.
//
// A backend stores JSON-compatible values under string keys and reports every
// change to a key (including changes it made itself) to the key's
// subscribers. Changes made by other processes are reported once the backend
// notices them, so cross-process consistency is eventual.
package kv

import (
	"context"
	"errors"
	"io"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("kv: backend closed")

// KeyValueStore reads and writes values by key.
type KeyValueStore interface {
	// Get returns the value stored under key. found is false when the key
	// does not exist; that is not an error.
	Get(ctx context.Context, key string) (value any, found bool, err error)

	// Set stores value under key, replacing any previous value. value must
	// be JSON-serializable.
	Set(ctx context.Context, key string, value any) error
}

// Change describes a mutation of one key.
type Change struct {
	Key string

	// OldValue is the previous value, or nil if the key did not exist.
	OldValue any

	// NewValue is the new value, or nil if the key was removed.
	NewValue any
}

// ChangeHandler receives change events. Handlers run synchronously on the
// goroutine that delivers the change and must not block for long.
type ChangeHandler func(Change)

// ChangeNotifier delivers change events for individual keys.
type ChangeNotifier interface {
	// Subscribe registers handler for changes to key. The returned function
	// removes the registration and is safe to call more than once.
	Subscribe(key string, handler ChangeHandler) (unsubscribe func(), err error)
}

// Backend is a KeyValueStore that also reports changes.
type Backend interface {
	KeyValueStore
	ChangeNotifier
	io.Closer
}
