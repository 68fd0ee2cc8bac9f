package bettershare

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/yacchi/bettershare/decoder"
	"github.com/yacchi/bettershare/kv"
)

// Store owns the preferences record.
//
// The first LoadPreferences reads storage; later calls are served from the
// cache, which is kept current by the change notifier. Concurrent callers
// may use a Store freely.
type Store struct {
	kv     kv.KeyValueStore
	key    string
	decode decoder.Func

	cell  cell
	group singleflight.Group

	// unsubscribe is nil when no notifier was given.
	unsubscribe func()
	closeOnce   sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithKey sets the storage key. Default is PreferencesKey.
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithDecoder sets the function that turns a stored record into
// UserPreferences. Default is decoder.Mapstructure.
func WithDecoder(d decoder.Func) Option {
	return func(s *Store) {
		s.decode = d
	}
}

// New creates a Store over store and subscribes to notifier for changes of
// the preferences key. notifier may be nil, in which case changes made by
// other processes are not observed and the Store applies its own saves to the
// cache directly.
//
// Backends implement both interfaces, so the usual call is:
//
//	s, err := bettershare.New(backend, backend)
func New(store kv.KeyValueStore, notifier kv.ChangeNotifier, opts ...Option) (*Store, error) {
	if store == nil {
		return nil, errors.New("bettershare: nil KeyValueStore")
	}

	s := &Store{
		kv:     store,
		key:    PreferencesKey,
		decode: decoder.Mapstructure,
	}
	for _, opt := range opts {
		opt(s)
	}

	if notifier != nil {
		unsubscribe, err := notifier.Subscribe(s.key, s.handleChange)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to %q: %w", s.key, err)
		}
		s.unsubscribe = unsubscribe
	}
	return s, nil
}

// Key returns the storage key of the record.
func (s *Store) Key() string {
	return s.key
}

// LoadPreferences returns the current preferences.
//
// Storage is read only when nothing is cached. A stored record of the current
// version is used as is; anything else is replaced by DefaultPreferences,
// which are written back to storage. Storage errors are returned unchanged,
// and a failed write of the defaults leaves the cache empty so the next call
// tries again.
func (s *Store) LoadPreferences(ctx context.Context) (UserPreferences, error) {
	if p, ok := s.cell.get(); ok {
		return p, nil
	}

	v, err, _ := s.group.Do(s.key, func() (any, error) {
		return s.load(ctx)
	})
	if err != nil {
		return UserPreferences{}, err
	}
	return v.(UserPreferences), nil
}

func (s *Store) load(ctx context.Context) (UserPreferences, error) {
	gen := s.cell.generation()

	raw, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return UserPreferences{}, err
	}
	if found && IsCurrentVersion(raw) {
		return s.cell.fill(gen, s.decodeRecord(raw)), nil
	}

	p := DefaultPreferences()
	if err := s.kv.Set(ctx, s.key, p.Record()); err != nil {
		return UserPreferences{}, err
	}
	return s.cell.fill(gen, p), nil
}

// decodeRecord converts a record that passed IsCurrentVersion. Fields that
// cannot be decoded keep their zero value.
func (s *Store) decodeRecord(raw any) UserPreferences {
	var p UserPreferences
	_ = s.decode(raw.(map[string]any), &p)
	p.Version = CurrentVersion
	return p
}

// SavePreferences writes p as the whole record. The cache and listeners are
// updated when the backend reports the change. Storage errors are returned
// unchanged.
func (s *Store) SavePreferences(ctx context.Context, p UserPreferences) error {
	if err := s.kv.Set(ctx, s.key, p.Record()); err != nil {
		return err
	}
	if s.unsubscribe == nil {
		s.cell.publish(p)
	}
	return nil
}

// OnPreferenceUpdate registers listener to be called with the new preferences
// every time a record of the current version is stored under the key.
// Listeners run on the goroutine that delivers the change, after the cache
// has been updated. A nil listener is ignored and yields ID 0.
func (s *Store) OnPreferenceUpdate(listener func(UserPreferences)) ListenerID {
	if listener == nil {
		return 0
	}
	return s.cell.subscribe(listener)
}

// RemovePreferenceUpdateListener removes the listener registered under id.
// Unknown IDs are ignored.
func (s *Store) RemovePreferenceUpdateListener(id ListenerID) {
	s.cell.unsubscribe(id)
}

// Close stops observing storage changes. The backend is not closed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
	return nil
}

func (s *Store) handleChange(c kv.Change) {
	if c.NewValue == nil || !IsCurrentVersion(c.NewValue) {
		return
	}
	s.cell.publish(s.decodeRecord(c.NewValue))
}
