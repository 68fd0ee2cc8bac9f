// Package memory provides an in-process kv.Backend. It is useful on its own
// for short-lived processes and as a test double: it counts calls, can be
// told to fail, and can simulate changes made by someone else.
package memory

import (
	"context"
	"sync"

	"github.com/yacchi/bettershare/kv"
)

// Store is an in-memory kv.Backend. Changes are published synchronously on
// the goroutine that made them.
type Store struct {
	kv.Broadcaster

	mu     sync.Mutex
	data   map[string]any
	closed bool

	getCalls int
	setCalls int
	getErr   error
	setErr   error
}

var _ kv.Backend = (*Store)(nil)

// New creates a Store holding initial. Values are normalized and copied;
// a value that cannot be normalized is skipped.
func New(initial map[string]any) *Store {
	s := &Store{data: make(map[string]any, len(initial))}
	for k, v := range initial {
		if n, err := kv.Normalize(v); err == nil {
			s.data[k] = n
		}
	}
	return s
}

// Get implements kv.KeyValueStore.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	if s.closed {
		return nil, false, kv.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return copyValue(v), true, nil
}

// Set implements kv.KeyValueStore.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	n, err := kv.Normalize(value)

	s.mu.Lock()
	s.setCalls++
	switch {
	case s.setErr != nil:
		err = s.setErr
	case s.closed:
		err = kv.ErrClosed
	case err == nil:
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	old := s.data[key]
	s.data[key] = n
	s.mu.Unlock()

	s.Publish(kv.Change{Key: key, OldValue: old, NewValue: copyValue(n)})
	return nil
}

// Emit stores c.NewValue under c.Key (removing the key when it is nil) and
// publishes c as if another process had made the change. OldValue is filled
// in from the current contents when it is nil.
func (s *Store) Emit(c kv.Change) {
	s.mu.Lock()
	if c.OldValue == nil {
		c.OldValue = s.data[c.Key]
	}
	if c.NewValue == nil {
		delete(s.data, c.Key)
	} else if n, err := kv.Normalize(c.NewValue); err == nil {
		s.data[c.Key] = n
	}
	s.mu.Unlock()

	s.Publish(c)
}

// FailGet makes every following Get return err. nil restores normal behavior.
func (s *Store) FailGet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// FailSet makes every following Set return err. nil restores normal behavior.
func (s *Store) FailSet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

// GetCalls returns how many times Get was called.
func (s *Store) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// SetCalls returns how many times Set was called.
func (s *Store) SetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

// Close implements io.Closer. Later calls to Get and Set fail with
// kv.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
