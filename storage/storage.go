// Package storage defines the key-value persistence contract used to save
// and restore service snapshots.
//
// Backends (adapters/memory, adapters/jsonfile, adapters/redis, adapters/sqlx)
// move opaque bytes. Adapter[T] layers a JSON codec, key namespacing and the
// error policy on top: recoverable failures are logged and degrade to "not
// found" or a no-op, so the in-memory service state stays authoritative.
// Only ErrClosed and context cancellation reach the caller.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrNotFound is returned by Backend.Get when the key is absent.
	ErrNotFound = errors.New("storage: key not found")
	// ErrClosed is returned by a backend used after Close.
	ErrClosed = errors.New("storage: backend closed")
)

// Backend is a byte-level key-value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix. An empty prefix
	// removes everything.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Adapter is the typed persistence contract services are saved through.
type Adapter[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	// Set fully replaces the value at key.
	Set(ctx context.Context, key string, value T) error
	Remove(ctx context.Context, key string) error
	// Clear removes only the keys owned by this adapter. An adapter without
	// a prefix owns the whole backend.
	Clear(ctx context.Context) error
}

// Option configures a JSON adapter.
type Option func(*options)

type options struct {
	prefix string
	logger *slog.Logger
}

// WithPrefix namespaces every key as "<prefix>:<key>". Separator and
// escape characters inside prefix are percent-encoded, so a prefix never
// owns keys of another prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = escapePrefix(strings.TrimSuffix(prefix, ":")) }
}

var prefixEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "/", "%2F")

func escapePrefix(s string) string { return prefixEscaper.Replace(s) }

// WithLogger sets the logger used for swallowed errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// JSON is an Adapter that stores values as JSON documents in a Backend.
type JSON[T any] struct {
	backend Backend
	prefix  string
	logger  *slog.Logger
}

// New returns a JSON adapter over backend.
func New[T any](backend Backend, opts ...Option) *JSON[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &JSON[T]{backend: backend, prefix: o.prefix, logger: o.logger}
}

// Prefix returns the namespace this adapter owns.
func (a *JSON[T]) Prefix() string { return a.prefix }

func (a *JSON[T]) fullKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return a.prefix + ":" + key
}

func (a *JSON[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, err := a.backend.Get(ctx, a.fullKey(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, a.recover("get", key, err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, a.recover("get", key, fmt.Errorf("decode: %w", err))
	}
	return v, true, nil
}

func (a *JSON[T]) Set(ctx context.Context, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return a.recover("set", key, fmt.Errorf("encode: %w", err))
	}
	if err := a.backend.Set(ctx, a.fullKey(key), raw); err != nil {
		return a.recover("set", key, err)
	}
	return nil
}

func (a *JSON[T]) Remove(ctx context.Context, key string) error {
	if err := a.backend.Delete(ctx, a.fullKey(key)); err != nil && !errors.Is(err, ErrNotFound) {
		return a.recover("remove", key, err)
	}
	return nil
}

// Clear deletes every key under the adapter's prefix. Without a prefix it
// deletes every key in the backend.
func (a *JSON[T]) Clear(ctx context.Context) error {
	prefix := ""
	if a.prefix != "" {
		prefix = a.prefix + ":"
	}
	if err := a.backend.DeletePrefix(ctx, prefix); err != nil {
		return a.recover("clear", prefix, err)
	}
	return nil
}

// recover applies the error policy: unrecoverable errors are returned,
// everything else is logged and dropped.
func (a *JSON[T]) recover(op, key string, err error) error {
	if Unrecoverable(err) {
		return fmt.Errorf("storage %s %q: %w", op, key, err)
	}
	a.logger.Warn("storage operation failed", "op", op, "key", a.fullKey(key), "error", err)
	return nil
}

// Unrecoverable reports whether err must propagate to the caller.
func Unrecoverable(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var _ Adapter[struct{}] = (*JSON[struct{}])(nil)
