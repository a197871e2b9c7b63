// Package challenge assigns one challenge per period from a pool and tracks
// progress toward it.
//
// Selection is deterministic: the period start (plus an optional salt) is
// hashed with sha256 and seeds a Fisher-Yates shuffle of the pool, so every
// client computes the same challenge for the same period.
package challenge

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"playkit/core"
	"playkit/engine"
)

// Reward is handed to OnComplete; the service grants nothing itself.
type Reward struct {
	XP     int64 `json:"xp,omitempty" yaml:"xp"`
	Points int64 `json:"points,omitempty" yaml:"points"`
}

// Definition is one entry of the challenge pool.
type Definition struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Target      int64  `json:"target" yaml:"target"`
	Reward      Reward `json:"reward" yaml:"reward"`
}

// Assignment is the challenge of one period and the progress made on it.
type Assignment struct {
	ChallengeID string `json:"challenge_id"`
	PeriodStart int64  `json:"period_start"`
	ExpiresAt   int64  `json:"expires_at"`
	Progress    int64  `json:"progress"`
	Target      int64  `json:"target"`
	Completed   bool   `json:"completed"`
	CompletedAt int64  `json:"completed_at,omitempty"`
}

// State is the persisted snapshot.
type State struct {
	UserID         core.UserID  `json:"user_id"`
	Current        *Assignment  `json:"current,omitempty"`
	History        []Assignment `json:"history"`
	CompletedCount int          `json:"completed_count"`
	// Streak counts consecutive periods whose challenge was completed.
	Streak      int   `json:"streak"`
	BestStreak  int   `json:"best_streak"`
	LastUpdated int64 `json:"last_updated"`
}

// Completion is the payload of challenge_completed.
type Completion struct {
	UserID     core.UserID `json:"user_id"`
	Challenge  Definition  `json:"challenge"`
	Assignment Assignment  `json:"assignment"`
	Streak     int         `json:"streak"`
}

// Config parameterises a Service.
type Config struct {
	UserID core.UserID
	Pool   []Definition
	// Period defaults to 24h. Offset shifts period boundaries.
	Period time.Duration
	Offset time.Duration
	// Salt is mixed into the selection hash. Set it to the user id for
	// per-user challenges; leave it empty for a global daily challenge.
	Salt string

	OnComplete func(Completion)
	OnExpire   func(Assignment)

	Clock core.Clock
}

var (
	EventAssigned  = engine.NewEvent[Assignment]("challenge_assigned")
	EventProgress  = engine.NewEvent[Assignment]("challenge_progress")
	EventCompleted = engine.NewEvent[Completion]("challenge_completed")
	EventExpired   = engine.NewEvent[Assignment]("challenge_expired")
	EventReset     = engine.NewEvent[core.UserID]("reset")
)

// Events lists every event after which the snapshot changed.
var Events = []string{
	EventAssigned.Name(), EventProgress.Name(), EventCompleted.Name(),
	EventExpired.Name(), EventReset.Name(),
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
	defs    map[string]Definition
	emitter *engine.Emitter
	state   State
}

func New(cfg Config, state *State) (*Service, error) {
	if cfg.Period == 0 {
		cfg.Period = 24 * time.Hour
	}
	if cfg.Period < time.Second {
		return nil, core.Validationf("period", "must be at least 1s, got %s", cfg.Period)
	}
	if len(cfg.Pool) == 0 {
		return nil, core.NewValidationError("pool", "cannot be empty")
	}
	s := &Service{
		cfg:     cfg,
		clock:   core.ClockOrSystem(cfg.Clock),
		defs:    make(map[string]Definition, len(cfg.Pool)),
		emitter: engine.NewEmitter(),
	}
	for _, d := range cfg.Pool {
		if err := core.ValidateSlug("pool.id", d.ID); err != nil {
			return nil, err
		}
		if _, dup := s.defs[d.ID]; dup {
			return nil, core.Validationf("pool.id", "duplicate challenge %q", d.ID)
		}
		if d.Target <= 0 {
			return nil, core.Validationf("pool.target", "challenge %q has non-positive target %d", d.ID, d.Target)
		}
		s.defs[d.ID] = d
	}

	if state == nil {
		s.state = State{UserID: cfg.UserID, History: []Assignment{}}
	} else {
		s.state = clone(*state)
		if s.state.UserID == "" {
			s.state.UserID = cfg.UserID
		}
	}
	if s.state.Current != nil {
		if _, ok := s.defs[s.state.Current.ChallengeID]; !ok {
			// the pool changed since the snapshot was taken
			s.state.Current = nil
		}
	}
	if s.state.Current == nil {
		now := s.clock.Now()
		a := s.assign(s.periodStart(now), "")
		s.state.Current = &a
		s.state.LastUpdated = core.Millis(now)
	}
	return s, nil
}

func (s *Service) periodStart(now time.Time) time.Time {
	return now.Add(-s.cfg.Offset).Truncate(s.cfg.Period).Add(s.cfg.Offset).UTC()
}

// Select returns the pool index chosen for a period, or -1 for an empty
// pool. exclude is skipped when the pool has an alternative.
func Select(pool []Definition, periodStart time.Time, salt, exclude string) int {
	n := len(pool)
	if n == 0 {
		return -1
	}
	h := sha256.Sum256([]byte(periodStart.UTC().Format(time.RFC3339) + "|" + salt))
	seed := binary.BigEndian.Uint64(h[:8])

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	for i := n - 1; i > 0; i-- {
		seed = seed*6364136223846793005 + 1442695040888963407
		j := int(seed % uint64(i+1))
		indices[i], indices[j] = indices[j], indices[i]
	}
	if n > 1 && pool[indices[0]].ID == exclude {
		return indices[1]
	}
	return indices[0]
}

func (s *Service) assign(start time.Time, previous string) Assignment {
	d := s.cfg.Pool[Select(s.cfg.Pool, start, s.cfg.Salt, previous)]
	return Assignment{
		ChallengeID: d.ID,
		PeriodStart: core.Millis(start),
		ExpiresAt:   core.Millis(start.Add(s.cfg.Period)),
		Target:      d.Target,
	}
}

// rollover archives the current assignment once its period has ended and
// assigns the challenge of the period containing now.
func (s *Service) rollover(p *engine.Pending, now time.Time) bool {
	cur := s.state.Current
	ms := core.Millis(now)
	if ms < cur.ExpiresAt {
		return false
	}
	old := *cur
	s.state.History = append(s.state.History, old)
	if !old.Completed {
		s.state.Streak = 0
		engine.Callback(p, s.cfg.OnExpire, old)
		engine.Later(p, s.emitter, EventExpired, old)
	}
	start := s.periodStart(now)
	if core.Millis(start) > old.ExpiresAt {
		// at least one whole period passed unseen
		s.state.Streak = 0
	}
	next := s.assign(start, old.ChallengeID)
	s.state.Current = &next
	s.state.LastUpdated = ms
	engine.Later(p, s.emitter, EventAssigned, next)
	return true
}

// CheckReset rolls over to the next period's challenge when the current one
// has expired and reports whether it did. It is idempotent.
func (s *Service) CheckReset(now time.Time) bool {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollover(&p, now)
}

// Tick runs CheckReset.
func (s *Service) Tick(now time.Time) { s.CheckReset(now) }

// UpdateProgress sets the absolute progress of the current challenge.
// Updates after completion are no-ops.
func (s *Service) UpdateProgress(value int64) (Assignment, error) {
	if value < 0 {
		return Assignment{}, core.Validationf("value", "cannot be negative, got %d", value)
	}
	return s.apply(func(int64) int64 { return value }), nil
}

// IncrementProgress adds delta to the current challenge's progress.
func (s *Service) IncrementProgress(delta int64) (Assignment, error) {
	if delta <= 0 {
		return Assignment{}, core.Validationf("delta", "must be positive, got %d", delta)
	}
	return s.apply(func(cur int64) int64 { return core.AddSaturating(cur, delta) }), nil
}

func (s *Service) apply(next func(int64) int64) Assignment {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.rollover(&p, now)
	cur := s.state.Current
	if cur.Completed {
		return *cur
	}
	ms := core.Millis(now)
	cur.Progress = next(cur.Progress)
	s.state.LastUpdated = ms
	done := cur.Progress >= cur.Target
	var c Completion
	if done {
		cur.Completed = true
		cur.CompletedAt = ms
		s.state.CompletedCount++
		s.state.Streak++
		s.state.BestStreak = max(s.state.BestStreak, s.state.Streak)
		c = Completion{
			UserID:     s.state.UserID,
			Challenge:  s.defs[cur.ChallengeID],
			Assignment: *cur,
			Streak:     s.state.Streak,
		}
		engine.Callback(&p, s.cfg.OnComplete, c)
	}
	engine.Later(&p, s.emitter, EventProgress, *cur)
	if done {
		engine.Later(&p, s.emitter, EventCompleted, c)
	}
	return *cur
}

// Current returns the active assignment and its definition.
func (s *Service) Current() (Assignment, Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *s.state.Current
	return a, s.defs[a.ChallengeID]
}

// Reset clears history and counters and assigns the current period's
// challenge afresh.
func (s *Service) Reset() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	a := s.assign(s.periodStart(now), "")
	s.state = State{UserID: s.state.UserID, Current: &a, History: []Assignment{}, LastUpdated: core.Millis(now)}
	engine.Later(&p, s.emitter, EventReset, s.state.UserID)
}

func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.state)
}

func (s *Service) Subscribe(fn func(name string, payload any)) func() {
	return s.emitter.Watch(fn, Events...)
}

// OnCompleted registers a typed completion handler.
func (s *Service) OnCompleted(fn func(Completion)) func() {
	return engine.On(s.emitter, EventCompleted, fn)
}

func clone(st State) State {
	if st.Current != nil {
		cur := *st.Current
		st.Current = &cur
	}
	st.History = append([]Assignment{}, st.History...)
	return st
}
