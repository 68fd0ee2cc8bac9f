package bettershare_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yacchi/bettershare"
	"github.com/yacchi/bettershare/kv"
	"github.com/yacchi/bettershare/kv/file"
	"github.com/yacchi/bettershare/kv/sqlite"
)

// persistentBackend opens a handle on the storage at path. Calling it twice
// with the same path yields two handles on the same data.
type persistentBackend struct {
	name string
	file string
	open func(t *testing.T, path string) kv.Backend
}

var persistentBackends = []persistentBackend{
	{
		name: "file json",
		file: "storage.json",
		open: func(t *testing.T, path string) kv.Backend {
			b, err := file.New(path, file.WithNotifierOptions(kv.WithDebounceDelay(10*time.Millisecond)))
			if err != nil {
				t.Fatalf("file.New() error = %v", err)
			}
			return b
		},
	},
	{
		name: "file yaml",
		file: "storage.yaml",
		open: func(t *testing.T, path string) kv.Backend {
			b, err := file.New(path, file.WithNotifierOptions(kv.WithDebounceDelay(10*time.Millisecond)))
			if err != nil {
				t.Fatalf("file.New() error = %v", err)
			}
			return b
		},
	},
	{
		name: "sqlite",
		file: "storage.db",
		open: func(t *testing.T, path string) kv.Backend {
			b, err := sqlite.Open(path,
				sqlite.WithPollInterval(20*time.Millisecond),
				sqlite.WithNotifierOptions(kv.WithDebounceDelay(0)),
			)
			if err != nil {
				t.Fatalf("sqlite.Open() error = %v", err)
			}
			return b
		},
	},
}

// openBackendStore opens a backend handle and a Store over it. It fails the
// test instead of hanging when construction blocks.
func openBackendStore(t *testing.T, pb persistentBackend, path string) (*bettershare.Store, kv.Backend) {
	t.Helper()
	backend := pb.open(t, path)
	t.Cleanup(func() { _ = backend.Close() })

	type result struct {
		s   *bettershare.Store
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := bettershare.New(backend, backend)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("New() error = %v", r.err)
		}
		t.Cleanup(func() { _ = r.s.Close() })
		return r.s, backend
	case <-time.After(5 * time.Second):
		t.Fatal("New() did not return")
		return nil, nil
	}
}

// within runs fn and fails the test if it does not finish in time.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not finish within %v", what, d)
	}
}

func TestBackends_RoundTripThroughFreshStore(t *testing.T) {
	for _, pb := range persistentBackends {
		t.Run(pb.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), pb.file)
			ctx := context.Background()

			first, _ := openBackendStore(t, pb, path)
			var saveErr error
			within(t, 5*time.Second, "SavePreferences", func() {
				saveErr = first.SavePreferences(ctx, twittpr)
			})
			if saveErr != nil {
				t.Fatalf("SavePreferences() error = %v", saveErr)
			}

			second, _ := openBackendStore(t, pb, path)
			got, err := second.LoadPreferences(ctx)
			if err != nil {
				t.Fatalf("LoadPreferences() error = %v", err)
			}
			if got != twittpr {
				t.Errorf("LoadPreferences() = %+v, want %+v", got, twittpr)
			}
		})
	}
}

func TestBackends_FallbackPersisted(t *testing.T) {
	for _, pb := range persistentBackends {
		t.Run(pb.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), pb.file)
			ctx := context.Background()

			s, backend := openBackendStore(t, pb, path)
			got, err := s.LoadPreferences(ctx)
			if err != nil {
				t.Fatalf("LoadPreferences() error = %v", err)
			}
			if got != bettershare.DefaultPreferences() {
				t.Errorf("LoadPreferences() = %+v, want defaults", got)
			}

			v, found, err := backend.Get(ctx, bettershare.PreferencesKey)
			if err != nil || !found {
				t.Fatalf("Get() = %v, %v, %v", v, found, err)
			}
			if !bettershare.IsCurrentVersion(v) {
				t.Errorf("stored value = %#v, want a current record", v)
			}
		})
	}
}

func TestBackends_SaveEchoesToListeners(t *testing.T) {
	for _, pb := range persistentBackends {
		t.Run(pb.name, func(t *testing.T) {
			s, _ := openBackendStore(t, pb, filepath.Join(t.TempDir(), pb.file))

			got := make(chan bettershare.UserPreferences, 10)
			s.OnPreferenceUpdate(func(p bettershare.UserPreferences) { got <- p })

			if err := s.SavePreferences(context.Background(), twittpr); err != nil {
				t.Fatalf("SavePreferences() error = %v", err)
			}
			select {
			case p := <-got:
				if p != twittpr {
					t.Errorf("listener got %+v", p)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("listener not called")
			}
		})
	}
}

func TestBackends_ListenerMaySave(t *testing.T) {
	for _, pb := range persistentBackends {
		t.Run(pb.name, func(t *testing.T) {
			s, _ := openBackendStore(t, pb, filepath.Join(t.TempDir(), pb.file))
			ctx := context.Background()

			// Correct twittpr to fxtwitter whenever it is stored.
			s.OnPreferenceUpdate(func(p bettershare.UserPreferences) {
				if p.X != bettershare.XTwittpr {
					return
				}
				p.X = bettershare.XFxTwitter
				if err := s.SavePreferences(ctx, p); err != nil {
					t.Errorf("SavePreferences() in listener error = %v", err)
				}
			})

			var saveErr error
			within(t, 5*time.Second, "SavePreferences", func() {
				saveErr = s.SavePreferences(ctx, twittpr)
			})
			if saveErr != nil {
				t.Fatalf("SavePreferences() error = %v", saveErr)
			}

			got, err := s.LoadPreferences(ctx)
			if err != nil {
				t.Fatalf("LoadPreferences() error = %v", err)
			}
			if got.X != bettershare.XFxTwitter {
				t.Errorf("X = %q, want %q", got.X, bettershare.XFxTwitter)
			}
		})
	}
}

func TestBackends_ChangeFromAnotherHandle(t *testing.T) {
	for _, pb := range persistentBackends {
		t.Run(pb.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), pb.file)
			ctx := context.Background()

			watching, _ := openBackendStore(t, pb, path)
			if _, err := watching.LoadPreferences(ctx); err != nil {
				t.Fatalf("LoadPreferences() error = %v", err)
			}
			got := make(chan bettershare.UserPreferences, 10)
			watching.OnPreferenceUpdate(func(p bettershare.UserPreferences) { got <- p })

			writer, _ := openBackendStore(t, pb, path)
			if err := writer.SavePreferences(ctx, twittpr); err != nil {
				t.Fatalf("SavePreferences() error = %v", err)
			}

			deadline := time.After(5 * time.Second)
			for {
				select {
				case p := <-got:
					if p.X == bettershare.XTwittpr {
						cached, err := watching.LoadPreferences(ctx)
						if err != nil || cached != twittpr {
							t.Errorf("LoadPreferences() = %+v, %v", cached, err)
						}
						return
					}
				case <-deadline:
					t.Fatal("change from another handle not observed")
				}
			}
		})
	}
}
