// Package combo implements a hit counter that breaks after an idle window
// and grows a stepped score multiplier.
package combo

import (
	"math"
	"sync"
	"time"

	"playkit/core"
	"playkit/engine"
)

// State is the persisted snapshot.
type State struct {
	UserID      core.UserID `json:"user_id"`
	Count       int         `json:"count"`
	Multiplier  float64     `json:"multiplier"`
	Best        int         `json:"best"`
	StartedAt   int64       `json:"started_at,omitempty"`
	LastHit     int64       `json:"last_hit,omitempty"`
	TotalCombos int         `json:"total_combos"`
	LastUpdated int64       `json:"last_updated"`
}

// Hit is the payload of combo_hit.
type Hit struct {
	UserID     core.UserID `json:"user_id"`
	Count      int         `json:"count"`
	Multiplier float64     `json:"multiplier"`
	At         int64       `json:"at"`
}

// MultiplierChange is the payload of combo_multiplier.
type MultiplierChange struct {
	UserID   core.UserID `json:"user_id"`
	Previous float64     `json:"previous"`
	Current  float64     `json:"current"`
}

// Broken is the payload of combo_broken.
type Broken struct {
	UserID     core.UserID `json:"user_id"`
	Count      int         `json:"count"`
	Multiplier float64     `json:"multiplier"`
	Duration   int64       `json:"duration_ms"`
}

// Config parameterises a Service.
type Config struct {
	UserID core.UserID
	// Window is the longest allowed gap between hits. Defaults to 3s.
	Window time.Duration
	// HitsPerStep hits raise the multiplier by Increment. Defaults to 5 and 0.5.
	HitsPerStep   int
	Increment     float64
	MaxMultiplier float64

	OnHit   func(Hit)
	OnBreak func(Broken)

	Clock core.Clock
}

var (
	EventHit        = engine.NewEvent[Hit]("combo_hit")
	EventMultiplier = engine.NewEvent[MultiplierChange]("combo_multiplier")
	EventBroken     = engine.NewEvent[Broken]("combo_broken")
	EventReset      = engine.NewEvent[core.UserID]("reset")
)

// Events lists every event after which the snapshot changed.
var Events = []string{EventHit.Name(), EventMultiplier.Name(), EventBroken.Name(), EventReset.Name()}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
	emitter *engine.Emitter
	state   State
}

func New(cfg Config, state *State) (*Service, error) {
	if cfg.Window == 0 {
		cfg.Window = 3 * time.Second
	}
	if cfg.HitsPerStep == 0 {
		cfg.HitsPerStep = 5
	}
	if cfg.Increment == 0 {
		cfg.Increment = 0.5
	}
	if cfg.MaxMultiplier == 0 {
		cfg.MaxMultiplier = 5
	}
	switch {
	case cfg.Window < 0:
		return nil, core.Validationf("window", "cannot be negative, got %s", cfg.Window)
	case cfg.HitsPerStep < 0:
		return nil, core.Validationf("hits_per_step", "cannot be negative, got %d", cfg.HitsPerStep)
	case cfg.Increment < 0:
		return nil, core.Validationf("increment", "cannot be negative, got %v", cfg.Increment)
	case cfg.MaxMultiplier < 1:
		return nil, core.Validationf("max_multiplier", "must be at least 1, got %v", cfg.MaxMultiplier)
	}
	s := &Service{cfg: cfg, clock: core.ClockOrSystem(cfg.Clock), emitter: engine.NewEmitter()}
	if state == nil {
		s.state = s.fresh(cfg.UserID)
		return s, nil
	}
	s.state = *state
	if s.state.UserID == "" {
		s.state.UserID = cfg.UserID
	}
	s.state.Multiplier = s.multiplier(s.state.Count)
	return s, nil
}

func (s *Service) fresh(user core.UserID) State {
	return State{UserID: user, Multiplier: 1, LastUpdated: core.Millis(s.clock.Now())}
}

func (s *Service) multiplier(count int) float64 {
	steps := count / s.cfg.HitsPerStep
	return math.Min(1+float64(steps)*s.cfg.Increment, s.cfg.MaxMultiplier)
}

// Hit registers one hit. A hit after the window has lapsed first breaks the
// running combo and then starts a new one.
func (s *Service) Hit() Hit {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := core.Millis(s.clock.Now())
	if s.expired(now) {
		s.breakCombo(&p, now)
	}
	if s.state.Count == 0 {
		s.state.StartedAt = now
	}
	prev := s.state.Multiplier
	s.state.Count++
	s.state.Multiplier = s.multiplier(s.state.Count)
	s.state.Best = max(s.state.Best, s.state.Count)
	s.state.LastHit = now
	s.state.LastUpdated = now

	h := Hit{UserID: s.state.UserID, Count: s.state.Count, Multiplier: s.state.Multiplier, At: now}
	engine.Callback(&p, s.cfg.OnHit, h)
	engine.Later(&p, s.emitter, EventHit, h)
	if s.state.Multiplier != prev {
		engine.Later(&p, s.emitter, EventMultiplier, MultiplierChange{
			UserID: s.state.UserID, Previous: prev, Current: s.state.Multiplier,
		})
	}
	return h
}

func (s *Service) expired(now int64) bool {
	return s.state.Count > 0 && now-s.state.LastHit > s.cfg.Window.Milliseconds()
}

func (s *Service) breakCombo(p *engine.Pending, now int64) {
	b := Broken{
		UserID:     s.state.UserID,
		Count:      s.state.Count,
		Multiplier: s.state.Multiplier,
		Duration:   s.state.LastHit - s.state.StartedAt,
	}
	s.state.Count = 0
	s.state.Multiplier = 1
	s.state.StartedAt = 0
	s.state.TotalCombos++
	s.state.LastUpdated = now
	engine.Callback(p, s.cfg.OnBreak, b)
	engine.Later(p, s.emitter, EventBroken, b)
}

// CheckTimeout breaks the combo if the window lapsed before now and reports
// whether it did. It is idempotent.
func (s *Service) CheckTimeout(now time.Time) bool {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	ms := core.Millis(now)
	if !s.expired(ms) {
		return false
	}
	s.breakCombo(&p, ms)
	return true
}

// Tick runs CheckTimeout.
func (s *Service) Tick(now time.Time) { s.CheckTimeout(now) }

// Apply scales base by the current multiplier, rounding down.
func (s *Service) Apply(base int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(math.Floor(float64(base) * s.state.Multiplier))
}

// Remaining returns how long the combo survives without another hit.
func (s *Service) Remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Count == 0 {
		return 0
	}
	left := s.cfg.Window - now.Sub(core.FromMillis(s.state.LastHit))
	return max(left, 0)
}

// Reset clears the combo and best score.
func (s *Service) Reset() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.fresh(s.state.UserID)
	engine.Later(&p, s.emitter, EventReset, s.state.UserID)
}

func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Subscribe(fn func(name string, payload any)) func() {
	return s.emitter.Watch(fn, Events...)
}

// OnBroken registers a typed break handler.
func (s *Service) OnBroken(fn func(Broken)) func() {
	return engine.On(s.emitter, EventBroken, fn)
}
