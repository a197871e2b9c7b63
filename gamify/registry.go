package gamify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"playkit/core"
	"playkit/leaderboard"
	"playkit/levels"
	"playkit/storage"
)

// Registry lazily mounts one Kit per user over a shared backend. When a
// leaderboard is configured every kit reports its total XP to it. Kits are
// mounted outside the registry lock, so a slow first load only blocks
// callers asking for the same user.
type Registry struct {
	backend storage.Backend
	cfg     KitConfig
	opts    []Option
	conf    config

	board *Binding[leaderboard.State, *leaderboard.Service]

	mu     sync.Mutex
	slots  map[core.UserID]*slot
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// slot is one user's kit, possibly still loading. ready closes once kit
// or err is set.
type slot struct {
	ready    chan struct{}
	kit      *Kit
	err      error
	unsub    func()
	lastUsed atomic.Int64

	once     sync.Once
	closeErr error
}

func (s *slot) loaded() bool {
	select {
	case <-s.ready:
		return s.err == nil
	default:
		return false
	}
}

func (s *slot) close(ctx context.Context) error {
	<-s.ready
	if s.err != nil {
		return nil
	}
	s.once.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		s.closeErr = s.kit.Close(ctx)
	})
	return s.closeErr
}

// NewRegistry returns a registry. A non-empty board.BoardID mounts a shared
// XP leaderboard under Key(core.FeatureLeaderboard, BoardID). Its policy
// defaults to latest.
func NewRegistry(ctx context.Context, backend storage.Backend, cfg KitConfig, board leaderboard.Config, opts ...Option) (*Registry, error) {
	if backend == nil {
		return nil, errors.New("gamify: backend is required")
	}
	r := &Registry{
		backend: backend,
		cfg:     cfg,
		opts:    opts,
		conf:    newConfig(opts),
		slots:   make(map[core.UserID]*slot),
		stop:    make(chan struct{}),
	}
	if board.BoardID != "" {
		if board.Policy == "" {
			board.Policy = leaderboard.PolicyLatest
		}
		if board.Clock == nil {
			board.Clock = cfg.Clock
		}
		o := append(append([]Option{}, opts...), WithFeature(core.FeatureLeaderboard))
		adapter := storage.New[leaderboard.State](backend, storage.WithLogger(r.conf.logger))
		b, err := Mount(ctx, adapter, Key(core.FeatureLeaderboard, core.UserID(board.BoardID)),
			func(st *leaderboard.State) (*leaderboard.Service, error) { return leaderboard.New(board, st) }, o...)
		if err != nil {
			return nil, err
		}
		r.board = b
	}
	if r.conf.idle > 0 {
		r.wg.Add(1)
		go r.janitor()
	}
	return r, nil
}

func (r *Registry) janitor() {
	defer r.wg.Done()
	tk := time.NewTicker(max(r.conf.idle/2, time.Second))
	defer tk.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-tk.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.conf.idle)
			if n := r.EvictIdle(ctx, r.conf.clock.Now()); n > 0 {
				r.conf.logger.Debug("evicted idle kits", "count", n)
			}
			cancel()
		}
	}
}

// Kit returns the user's kit, mounting it on first use. Concurrent callers
// for the same user share one mount.
func (r *Registry) Kit(ctx context.Context, user core.UserID) (*Kit, error) {
	id, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, core.NewValidationError("user_id", err.Error())
	}
	now := r.conf.clock.Now().UnixMilli()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := r.slots[id]; ok {
		r.mu.Unlock()
		s.lastUsed.Store(now)
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return s.kit, s.err
	}
	var victim *slot
	if r.conf.maxKits > 0 && len(r.slots) >= r.conf.maxKits {
		victim = r.evictLRU()
	}
	s := &slot{ready: make(chan struct{})}
	s.lastUsed.Store(now)
	r.slots[id] = s
	r.mu.Unlock()

	if victim != nil {
		if err := victim.close(ctx); err != nil {
			r.conf.logger.Warn("closing evicted kit failed", "error", err)
		}
	}

	s.kit, s.err = NewKit(ctx, r.backend, id, r.cfg, r.opts...)
	if s.err == nil && r.board != nil {
		s.unsub = r.track(s.kit)
	}
	close(s.ready)

	r.mu.Lock()
	closed := r.closed
	if s.err != nil && r.slots[id] == s {
		delete(r.slots, id)
	}
	r.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if closed {
		// Close ran while loading and skipped this slot.
		_ = s.close(context.WithoutCancel(ctx))
		return nil, ErrClosed
	}
	return s.kit, nil
}

// evictLRU removes the least recently used loaded slot. r.mu must be held.
func (r *Registry) evictLRU() *slot {
	var (
		oldest   core.UserID
		victim   *slot
		victimAt int64
	)
	for id, s := range r.slots {
		if !s.loaded() {
			continue
		}
		if at := s.lastUsed.Load(); victim == nil || at < victimAt {
			oldest, victim, victimAt = id, s, at
		}
	}
	if victim != nil {
		delete(r.slots, oldest)
	}
	return victim
}

// EvictIdle closes kits not used since now minus the idle timeout set by
// WithIdleEvict and reports how many it closed.
func (r *Registry) EvictIdle(ctx context.Context, now time.Time) int {
	if r.conf.idle <= 0 {
		return 0
	}
	cutoff := now.Add(-r.conf.idle).UnixMilli()
	var idle []*slot
	r.mu.Lock()
	for id, s := range r.slots {
		if s.loaded() && s.lastUsed.Load() <= cutoff {
			idle = append(idle, s)
			delete(r.slots, id)
		}
	}
	r.mu.Unlock()
	for _, s := range idle {
		if err := s.close(ctx); err != nil {
			r.conf.logger.Warn("closing idle kit failed", "user", s.kit.User, "error", err)
		}
	}
	return len(idle)
}

// track mirrors the kit's total XP onto the leaderboard.
func (r *Registry) track(k *Kit) func() {
	lv := k.Levels.Service()
	board := r.board.Service()
	submit := func() {
		if _, err := board.Submit(k.User, lv.GetLevelData().TotalXP, ""); err != nil {
			r.conf.logger.Warn("leaderboard submit failed", "user", k.User, "error", err)
		}
	}
	return lv.Subscribe(func(name string, _ any) {
		switch name {
		case levels.EventXPGained.Name(), levels.EventXPRemoved.Name(), levels.EventLevelSet.Name(), levels.EventReset.Name():
			submit()
		}
	})
}

// Leaderboard returns the shared leaderboard, or nil when none is configured.
func (r *Registry) Leaderboard() *leaderboard.Service {
	if r.board == nil {
		return nil
	}
	return r.board.Service()
}

// Users lists the users with a mounted kit.
func (r *Registry) Users() []core.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.UserID, 0, len(r.slots))
	for id, s := range r.slots {
		if s.loaded() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Evict closes and forgets the user's kit. Its state stays in storage.
func (r *Registry) Evict(ctx context.Context, user core.UserID) error {
	id, err := core.NormalizeUserID(user)
	if err != nil {
		return core.NewValidationError("user_id", err.Error())
	}
	r.mu.Lock()
	s, ok := r.slots[id]
	delete(r.slots, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.close(ctx)
}

// Close closes every kit and the leaderboard binding.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	slots := r.slots
	r.slots = map[core.UserID]*slot{}
	r.mu.Unlock()
	close(r.stop)
	r.wg.Wait()

	var errs []error
	for _, s := range slots {
		if !s.loaded() {
			// the loading caller closes it
			continue
		}
		if err := s.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.board != nil {
		if err := r.board.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const pingKey = "playkit:healthcheck"

// Ping checks the backend with a read. A missing key counts as healthy.
func (r *Registry) Ping(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if _, err := r.backend.Get(ctx, pingKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
