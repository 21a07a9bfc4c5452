// Package settings persists a single JSON settings document through the
// atomic layer, so a crash mid-save can never leave a torn or missing file.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mirkobrombin/go-atomfs/pkg/atomic"
	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-warp/v1/cache"
)

var ErrInvalid = fmt.Errorf("settings: validation failed")

const cacheKey = "settings"

// Store binds one settings document of type T to a file path.
type Store[T any] struct {
	path     string
	validate func(T) error
	defaults *T
	cache    cache.Cache[T]
	cacheTTL time.Duration
}

// Option configures a Store.
type Option[T any] = options.Option[Store[T]]

// WithValidate rejects documents fn reports an error for, both on Save and
// after external reloads.
func WithValidate[T any](fn func(T) error) Option[T] {
	return func(s *Store[T]) { s.validate = fn }
}

// WithDefaults makes Load return def instead of an error when the file does
// not exist yet.
func WithDefaults[T any](def T) Option[T] {
	return func(s *Store[T]) { s.defaults = &def }
}

// WithCacheTTL bounds how long a loaded document is served from memory.
// Zero (the default) caches until the next Save or Watch reload.
func WithCacheTTL[T any](ttl time.Duration) Option[T] {
	return func(s *Store[T]) { s.cacheTTL = ttl }
}

// New returns a store for the document at path.
func New[T any](path string, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		path:  path,
		cache: cache.NewInMemory[T](cache.WithMaxEntries[T](1)),
	}
	options.Apply(s, opts...)
	return s
}

// Path returns the file the store persists to.
func (s *Store[T]) Path() string {
	return s.path
}

// Load reads the current document, serving repeat calls from memory.
func (s *Store[T]) Load(ctx context.Context) (T, error) {
	if v, ok, _ := s.cache.Get(ctx, cacheKey); ok {
		return v, nil
	}

	var zero T
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) && s.defaults != nil {
			return *s.defaults, nil
		}
		return zero, fmt.Errorf("settings: read: %w", err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("settings: decode: %w", err)
	}
	if s.validate != nil {
		if err := s.validate(v); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	_ = s.cache.Set(ctx, cacheKey, v, s.cacheTTL)
	return v, nil
}

// Save validates and persists value. The write goes through a temp file with
// a safety backup, so the previous document survives any failure.
func (s *Store[T]) Save(ctx context.Context, value T) error {
	if s.validate != nil {
		if err := s.validate(value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	res := atomic.WriteFile(ctx, s.path, data,
		atomic.WithBackup(),
		atomic.WithWriteValidator(validJSON),
	)
	if !res.Success {
		return fmt.Errorf("settings: persist: %w", res.Err)
	}

	_ = s.cache.Set(ctx, cacheKey, value, s.cacheTTL)
	return nil
}

// Update loads the current document, applies fn and saves the result.
func (s *Store[T]) Update(ctx context.Context, fn func(*T)) error {
	v, err := s.Load(ctx)
	if err != nil {
		return err
	}
	fn(&v)
	return s.Save(ctx, v)
}

func validJSON(_ context.Context, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("not valid JSON")
	}
	return nil
}

// Watch delivers a fresh document whenever the file changes on disk,
// including replacements by other processes. The channel closes when ctx is
// cancelled. Reloads that fail to parse or validate are logged and skipped.
func (s *Store[T]) Watch(ctx context.Context) (<-chan T, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings: watch: %w", err)
	}
	// Watch the directory: an atomic save replaces the file via rename, which
	// would silently detach a watch on the path itself.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("settings: watch: %w", err)
	}

	out := make(chan T, 1)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
					continue
				}
				_ = s.cache.Invalidate(ctx, cacheKey)
				v, err := s.Load(ctx)
				if err != nil {
					slog.Debug("settings: reload skipped", "path", s.path, "error", err)
					continue
				}
				select {
				case out <- v:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Debug("settings: watcher error", "error", err)
			}
		}
	}()
	return out, nil
}
