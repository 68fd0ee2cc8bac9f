// Package file provides a kv.Backend that keeps every key in one document
// file. The format (JSON, JSONC, YAML or TOML) follows the file extension.
//
// Writes are serialized within the process by a mutex and across processes by
// an flock on a sidecar "<path>.lock" file, and are applied atomically by
// writing a temporary file and renaming it over the document. Changes made by
// other processes are picked up with fsnotify.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/yacchi/bettershare/codec"
	"github.com/yacchi/bettershare/kv"
	"github.com/yacchi/bettershare/watcher"
)

type tempFile interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
	Name() string
}

var (
	userHomeDir = os.UserHomeDir
	osReadFile  = os.ReadFile
	osMkdirAll  = os.MkdirAll
	osChmod     = os.Chmod
	osRename    = os.Rename
	osRemove    = os.Remove

	createTemp = func(dir, pattern string) (tempFile, error) {
		return os.CreateTemp(dir, pattern)
	}
)

// fileLock acquires an exclusive lock on fd. If the filesystem does not
// support locking the operation proceeds without it.
func fileLock(fd int) (unlock func(), err error) {
	if err := flockExclusive(fd); err != nil {
		if isLockNotSupportedError(err) {
			return func() {}, nil
		}
		return nil, err
	}
	return func() { flockUnlock(fd) }, nil
}

// Default permission modes.
const (
	DefaultFileMode = 0644
	DefaultDirMode  = 0755
)

// Store is a file-backed kv.Backend.
type Store struct {
	path     string
	codec    codec.Codec
	fileMode os.FileMode
	dirMode  os.FileMode
	nopts    []kv.NotifierOption

	opMu     sync.Mutex
	notifier *kv.Notifier

	mu     sync.Mutex
	closed bool
}

var _ kv.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithFileMode sets the permission mode of the document file. Default 0644.
func WithFileMode(mode os.FileMode) Option {
	return func(s *Store) {
		s.fileMode = mode
	}
}

// WithDirMode sets the mode used when creating parent directories. Default 0755.
func WithDirMode(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirMode = mode
	}
}

// WithCodec overrides the codec chosen from the file extension.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithNotifierOptions configures change detection.
func WithNotifierOptions(opts ...kv.NotifierOption) Option {
	return func(s *Store) {
		s.nopts = append(s.nopts, opts...)
	}
}

// New creates a Store for the document at path. Tilde (~) expansion is
// supported. The file does not need to exist; a missing file reads as empty
// and is created by the first Set.
//
// Example:
//
//	s, err := file.New("~/.config/bettershare/storage.json")
//	s, err := file.New("prefs.conf", file.WithCodec(codec.YAML()), file.WithFileMode(0600))
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		fileMode: DefaultFileMode,
		dirMode:  DefaultDirMode,
	}
	for _, opt := range opts {
		opt(s)
	}

	expanded, err := expandTilde(path)
	if err != nil {
		return nil, err
	}
	s.path = expanded

	if s.codec == nil {
		c, err := codec.ForPath(expanded)
		if err != nil {
			return nil, err
		}
		s.codec = c
	}

	s.notifier = kv.NewNotifier(s.snapshot, s.newWatcher, s.nopts...)
	return s, nil
}

// Path returns the expanded document path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get implements kv.KeyValueStore.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.isClosed() {
		return nil, false, kv.ErrClosed
	}

	doc, err := s.read()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	n, err := kv.Normalize(v)
	if err != nil {
		return nil, false, fmt.Errorf("key %q in %q: %w", key, s.path, err)
	}
	return n, true, nil
}

// Set implements kv.KeyValueStore.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	n, err := kv.Normalize(value)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return kv.ErrClosed
	}

	s.opMu.Lock()
	if err := s.update(key, n); err != nil {
		s.opMu.Unlock()
		return err
	}
	c := s.notifier.Record(key, n)
	s.opMu.Unlock()

	s.notifier.Publish(c)
	return nil
}

// Subscribe implements kv.ChangeNotifier.
func (s *Store) Subscribe(key string, handler kv.ChangeHandler) (func(), error) {
	if s.isClosed() {
		return nil, kv.ErrClosed
	}
	return s.notifier.Subscribe(key, handler)
}

// Close stops watching the file.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.notifier.Close()
}

// read loads the whole document. A missing file is an empty document.
func (s *Store) read() (map[string]any, error) {
	data, err := osReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read file %q: %w", s.path, err)
	}
	doc, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", s.path, err)
	}
	return doc, nil
}

// update rewrites the document with key set to value while holding the
// cross-process lock.
func (s *Store) update(key string, value any) error {
	dir := filepath.Dir(s.path)
	if err := osMkdirAll(dir, s.dirMode); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, s.fileMode)
	if err != nil {
		return fmt.Errorf("failed to open lock file %q: %w", lockPath, err)
	}
	defer lockFile.Close()

	unlock, err := fileLock(int(lockFile.Fd()))
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %q: %w", lockPath, err)
	}
	defer unlock()

	current, err := osReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read current file %q: %w", s.path, err)
	}

	newData, err := s.encode(current, key, value)
	if err != nil {
		return err
	}
	return s.writeAtomic(dir, newData)
}

func (s *Store) encode(current []byte, key string, value any) ([]byte, error) {
	if p, ok := s.codec.(codec.Patcher); ok {
		data, err := p.Patch(current, key, value)
		if err != nil {
			return nil, fmt.Errorf("failed to update %q: %w", s.path, err)
		}
		return data, nil
	}

	doc, err := s.codec.Decode(current)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", s.path, err)
	}
	doc[key] = value
	data, err := s.codec.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", s.path, err)
	}
	return data, nil
}

func (s *Store) writeAtomic(dir string, data []byte) error {
	tmpFile, err := createTemp(dir, ".bettershare-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			osRemove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temporary file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := osChmod(tmpPath, s.fileMode); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := osRename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temporary file to %q: %w", s.path, err)
	}

	success = true
	return nil
}

func (s *Store) snapshot(_ context.Context, keys []string) (map[string]any, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	return kv.NormalizeMap(out)
}

func (s *Store) newWatcher(fetch watcher.FetchFunc, opts ...watcher.Option) watcher.Watcher {
	return watcher.NewSubscription(watcher.SubscriptionHandlerFunc(s.watchFile), fetch, opts...)
}

// watchFile implements watcher.SubscriptionHandler with fsnotify. The parent
// directory is watched rather than the file so atomic renames and file
// recreation are seen. Notifications are event-only.
func (s *Store) watchFile(ctx context.Context, notify watcher.NotifyFunc) (watcher.StopFunc, error) {
	dir := filepath.Dir(s.path)
	if err := osMkdirAll(dir, s.dirMode); err != nil {
		return nil, fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch directory %q: %w", dir, err)
	}

	filename := filepath.Base(s.path)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					notify(nil, nil)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				notify(nil, err)
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func(ctx context.Context) error {
		err := w.Close()
		<-done
		return err
	}
	return stop, nil
}

// expandTilde expands "~" and "~/path". "~user" forms are returned as-is.
func expandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}

	homeDir, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand home directory: %w", err)
	}
	if len(path) == 1 {
		return homeDir, nil
	}
	if path[1] == '/' || path[1] == filepath.Separator {
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
