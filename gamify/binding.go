// Package gamify binds feature services to storage and to the outside world.
//
// A Binding owns one service instance: it restores the service from a
// storage adapter, persists a fresh snapshot after every change event,
// forwards events as core.Event envelopes to realtime hubs and hooks, and
// drives time-based services with a ticker. Kit composes one binding per
// feature for a user; Registry caches kits per user.
package gamify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"playkit/core"
	"playkit/engine"
	"playkit/realtime"
	"playkit/storage"
)

// DefaultTickInterval drives engine.Ticker services when no interval is set.
const DefaultTickInterval = time.Second

// ErrClosed is returned by operations on a closed Binding.
var ErrClosed = errors.New("gamify: binding closed")

// Option configures a Binding.
type Option func(*config)

type config struct {
	feature core.Feature
	user    core.UserID
	hub     *realtime.Hub
	hooks   []func(core.Event)
	tick    time.Duration
	clock   core.Clock
	logger  *slog.Logger

	// registry only
	maxKits int
	idle    time.Duration
}

// WithFeature tags forwarded envelopes with feature.
func WithFeature(f core.Feature) Option { return func(c *config) { c.feature = f } }

// WithUser tags forwarded envelopes with user.
func WithUser(u core.UserID) Option { return func(c *config) { c.user = u } }

// WithRealtime wires a realtime hub to receive all service events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithHook forwards every service event to fn, e.g. a webhook sink or an
// analytics hook.
func WithHook(fn func(core.Event)) Option {
	return func(c *config) {
		if fn != nil {
			c.hooks = append(c.hooks, fn)
		}
	}
}

// WithTickInterval sets how often engine.Ticker services are ticked. A
// negative interval disables the ticker.
func WithTickInterval(d time.Duration) Option { return func(c *config) { c.tick = d } }

// WithClock sets the time source passed to Tick and stamped on envelopes.
func WithClock(clock core.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxKits caps how many kits a Registry keeps mounted. Mounting past
// the cap evicts the least recently used kit. Zero means no cap.
func WithMaxKits(n int) Option { return func(c *config) { c.maxKits = n } }

// WithIdleEvict makes a Registry close kits unused for d. Zero disables it.
func WithIdleEvict(d time.Duration) Option { return func(c *config) { c.idle = d } }

func newConfig(opts []Option) config {
	cfg := config{tick: DefaultTickInterval, clock: core.SystemClock{}, logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// Binding keeps a service and its persisted snapshot in sync.
type Binding[S any, T engine.Service[S]] struct {
	svc     T
	adapter storage.Adapter[S]
	key     string
	cfg     config

	unsubscribe func()
	dirty       chan struct{}
	stop        chan struct{}
	wg          sync.WaitGroup

	saveMu sync.Mutex
	mu     sync.Mutex
	closed bool
}

// Mount loads the snapshot stored at key, builds the service from it (nil
// when nothing is stored) and starts persisting. The load blocks; every
// later save happens on a background writer so mutating calls never wait on
// storage.
func Mount[S any, T engine.Service[S]](ctx context.Context, adapter storage.Adapter[S], key string, build func(state *S) (T, error), opts ...Option) (*Binding[S, T], error) {
	if adapter == nil {
		return nil, errors.New("gamify: adapter is required")
	}
	if build == nil {
		return nil, errors.New("gamify: build func is required")
	}
	cfg := newConfig(opts)

	snap, ok, err := adapter.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", key, err)
	}
	var state *S
	if ok {
		state = &snap
	}
	svc, err := build(state)
	if err != nil {
		return nil, fmt.Errorf("build %q: %w", key, err)
	}

	b := &Binding[S, T]{
		svc:     svc,
		adapter: adapter,
		key:     key,
		cfg:     cfg,
		dirty:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.unsubscribe = svc.Subscribe(b.onEvent)

	b.wg.Add(1)
	go b.writer()

	if t, ok := any(svc).(engine.Ticker); ok && cfg.tick > 0 {
		b.wg.Add(1)
		go b.ticker(t)
	}
	cfg.logger.Debug("service mounted", "key", key, "restored", ok)
	return b, nil
}

// Service returns the bound service.
func (b *Binding[S, T]) Service() T { return b.svc }

// Key returns the storage key the snapshot is saved under.
func (b *Binding[S, T]) Key() string { return b.key }

func (b *Binding[S, T]) onEvent(name string, payload any) {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
	if b.cfg.hub == nil && len(b.cfg.hooks) == 0 {
		return
	}
	ev := core.Event{
		Feature: b.cfg.feature,
		Type:    name,
		Key:     b.key,
		UserID:  b.cfg.user,
		Time:    b.cfg.clock.Now().UTC(),
		Payload: payload,
	}
	if b.cfg.hub != nil {
		b.cfg.hub.Broadcast(context.Background(), ev)
	}
	for _, h := range b.cfg.hooks {
		h(ev)
	}
}

// writer coalesces change signals: however many events arrive while a save
// is in flight, one more save of the latest snapshot follows.
func (b *Binding[S, T]) writer() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case <-b.dirty:
			if err := b.save(context.Background()); err != nil {
				b.cfg.logger.Error("persist snapshot failed", "key", b.key, "error", err)
			}
		}
	}
}

func (b *Binding[S, T]) ticker(t engine.Ticker) {
	defer b.wg.Done()
	tk := time.NewTicker(b.cfg.tick)
	defer tk.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-tk.C:
			t.Tick(b.cfg.clock.Now())
		}
	}
}

// save serializes snapshot-and-write so an older snapshot never lands
// after a newer one.
func (b *Binding[S, T]) save(ctx context.Context) error {
	b.saveMu.Lock()
	defer b.saveMu.Unlock()
	return b.adapter.Set(ctx, b.key, b.svc.Snapshot())
}

// Flush saves the current snapshot synchronously.
func (b *Binding[S, T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.save(ctx)
}

// Close unsubscribes from the service, stops the background goroutines and
// writes a final snapshot. The service stays usable in memory but is no
// longer persisted.
func (b *Binding[S, T]) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.unsubscribe()
	close(b.stop)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.save(ctx)
}
