// Package sqlite provides a kv.Backend stored in an SQLite database using
// the pure-Go modernc.org/sqlite driver. Values are kept as JSON text.
//
// Several processes may open the same database file. Changes made through
// another handle are detected by polling.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yacchi/bettershare/kv"
)

// DefaultPollInterval is how often the database is checked for changes made
// by other handles.
const DefaultPollInterval = time.Second

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is an SQLite-backed kv.Backend.
type Store struct {
	db           *sql.DB
	path         string
	pollInterval time.Duration
	nopts        []kv.NotifierOption

	notifier *kv.Notifier

	mu     sync.Mutex
	closed bool
}

var _ kv.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often other handles' changes are looked for.
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

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:         path,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	s.db = db
	s.notifier = kv.NewNotifier(s.snapshot, kv.PollingWatcher(s.pollInterval), s.nopts...)
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get implements kv.KeyValueStore.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	if s.isClosed() {
		return nil, false, kv.ErrClosed
	}

	var text string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	v, err := kv.Decode(text)
	if err != nil {
		return nil, false, fmt.Errorf("key %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements kv.KeyValueStore.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	n, err := kv.Normalize(value)
	if err != nil {
		return err
	}
	text, err := kv.Encode(n)
	if err != nil {
		return err
	}
	if s.isClosed() {
		return kv.ErrClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, text, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
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

// Close stops change detection and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return errors.Join(s.notifier.Close(), s.db.Close())
}

func (s *Store) snapshot(ctx context.Context, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, text string
		if err := rows.Scan(&key, &text); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		v, err := kv.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}
