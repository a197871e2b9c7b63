// Package badges tracks per-badge progress and unlocks badges once their
// target is met.
package badges

import (
	"sort"
	"sync"

	"playkit/core"
	"playkit/engine"
)

// Condition is one unlock requirement. A badge's target is the sum of its
// condition targets.
type Condition struct {
	Type        string `json:"type"`
	Target      int64  `json:"target"`
	Description string `json:"description,omitempty"`
}

// Rarity is a display tier.
type Rarity string

const (
	Common    Rarity = "common"
	Rare      Rarity = "rare"
	Epic      Rarity = "epic"
	Legendary Rarity = "legendary"
)

// Definition describes a badge. A definition without conditions can only be
// unlocked manually.
type Definition struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Rarity      Rarity      `json:"rarity,omitempty" yaml:"rarity"`
	Hidden      bool        `json:"hidden,omitempty" yaml:"hidden"`
	Points      int64       `json:"points,omitempty" yaml:"points"`
	Conditions  []Condition `json:"conditions,omitempty" yaml:"conditions"`
}

// Target returns the sum of the condition targets.
func (d Definition) Target() int64 {
	var t int64
	for _, c := range d.Conditions {
		t = core.AddSaturating(t, c.Target)
	}
	return t
}

// Progress is the persisted progress of one badge.
type Progress struct {
	BadgeID    string `json:"badge_id"`
	Current    int64  `json:"current"`
	Target     int64  `json:"target"`
	Unlocked   bool   `json:"unlocked"`
	UnlockedAt int64  `json:"unlocked_at,omitempty"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Percent returns completion in [0, 100].
func (p Progress) Percent() int {
	if p.Unlocked {
		return 100
	}
	if p.Target <= 0 {
		return 0
	}
	return int(min(p.Current*100/p.Target, 100))
}

// Unlock is the payload of badge_unlocked.
type Unlock struct {
	UserID core.UserID `json:"user_id"`
	Badge  Definition  `json:"badge"`
	Manual bool        `json:"manual"`
	At     int64       `json:"at"`
}

// State is the persisted snapshot.
type State struct {
	UserID      core.UserID         `json:"user_id"`
	Progress    map[string]Progress `json:"progress"`
	LastUpdated int64               `json:"last_updated"`
}

// Config parameterises a Service.
type Config struct {
	UserID   core.UserID
	Badges   []Definition
	OnUnlock func(Unlock)
	Clock    core.Clock
}

var (
	EventProgress = engine.NewEvent[Progress]("badge_progress")
	EventUnlocked = engine.NewEvent[Unlock]("badge_unlocked")
	EventReset    = engine.NewEvent[core.UserID]("reset")
)

// Events lists every event after which the snapshot changed.
var Events = []string{EventProgress.Name(), EventUnlocked.Name(), EventReset.Name()}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
	defs    map[string]Definition
	order   []string
	emitter *engine.Emitter
	state   State
}

func New(cfg Config, state *State) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		clock:   core.ClockOrSystem(cfg.Clock),
		defs:    make(map[string]Definition, len(cfg.Badges)),
		emitter: engine.NewEmitter(),
	}
	for i, d := range cfg.Badges {
		if err := core.ValidateSlug("badges.id", d.ID); err != nil {
			return nil, err
		}
		if _, dup := s.defs[d.ID]; dup {
			return nil, core.Validationf("badges.id", "duplicate badge %q", d.ID)
		}
		for _, c := range d.Conditions {
			if c.Target <= 0 {
				return nil, core.Validationf("badges.conditions", "badge %q has non-positive target %d", d.ID, c.Target)
			}
		}
		s.defs[d.ID] = cfg.Badges[i]
		s.order = append(s.order, d.ID)
	}

	if state == nil {
		s.state = State{UserID: cfg.UserID, LastUpdated: core.Millis(s.clock.Now())}
	} else {
		s.state = clone(*state)
		if s.state.UserID == "" {
			s.state.UserID = cfg.UserID
		}
	}
	if s.state.Progress == nil {
		s.state.Progress = make(map[string]Progress)
	}
	// targets follow the current definitions; progress of removed badges is kept
	for id, d := range s.defs {
		p := s.state.Progress[id]
		p.BadgeID = id
		p.Target = d.Target()
		s.state.Progress[id] = p
	}
	return s, nil
}

// UpdateProgress sets the absolute progress of a badge and unlocks it when
// the target is met. Updates to an unlocked badge are no-ops.
func (s *Service) UpdateProgress(id string, value int64) (core.Result[Progress], error) {
	if value < 0 {
		return core.Result[Progress]{}, core.Validationf("value", "cannot be negative, got %d", value)
	}
	return s.apply(id, func(int64) int64 { return value })
}

// IncrementProgress adds delta to a badge's progress.
func (s *Service) IncrementProgress(id string, delta int64) (core.Result[Progress], error) {
	if delta <= 0 {
		return core.Result[Progress]{}, core.Validationf("delta", "must be positive, got %d", delta)
	}
	return s.apply(id, func(cur int64) int64 { return core.AddSaturating(cur, delta) })
}

func (s *Service) apply(id string, next func(int64) int64) (core.Result[Progress], error) {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[id]
	if !ok {
		return core.Fail[Progress](core.FailureNotFound, "badge %q not found", id), nil
	}
	prog := s.state.Progress[id]
	if prog.Unlocked {
		return core.Succeed(prog), nil
	}
	now := core.Millis(s.clock.Now())
	prog.Current = next(prog.Current)
	prog.UpdatedAt = now
	unlocked := prog.Target > 0 && prog.Current >= prog.Target
	if unlocked {
		prog.Unlocked = true
		prog.UnlockedAt = now
	}
	s.state.Progress[id] = prog

	engine.Later(&p, s.emitter, EventProgress, prog)
	if unlocked {
		u := Unlock{UserID: s.state.UserID, Badge: def, At: now}
		engine.Callback(&p, s.cfg.OnUnlock, u)
		engine.Later(&p, s.emitter, EventUnlocked, u)
	}
	s.state.LastUpdated = now
	return core.Succeed(prog), nil
}

// Unlock unlocks a badge regardless of its progress.
func (s *Service) Unlock(id string) core.Result[Progress] {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[id]
	if !ok {
		return core.Fail[Progress](core.FailureNotFound, "badge %q not found", id)
	}
	prog := s.state.Progress[id]
	if prog.Unlocked {
		return core.Fail[Progress](core.FailureAlreadyUnlocked, "badge %q already unlocked", id)
	}
	now := core.Millis(s.clock.Now())
	prog.Unlocked = true
	prog.UnlockedAt = now
	prog.UpdatedAt = now
	s.state.Progress[id] = prog
	s.state.LastUpdated = now

	u := Unlock{UserID: s.state.UserID, Badge: def, Manual: true, At: now}
	engine.Callback(&p, s.cfg.OnUnlock, u)
	engine.Later(&p, s.emitter, EventUnlocked, u)
	return core.Succeed(prog)
}

// Reset clears all progress.
func (s *Service) Reset() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := core.Millis(s.clock.Now())
	for id, d := range s.defs {
		s.state.Progress[id] = Progress{BadgeID: id, Target: d.Target()}
	}
	for id := range s.state.Progress {
		if _, ok := s.defs[id]; !ok {
			delete(s.state.Progress, id)
		}
	}
	s.state.LastUpdated = now
	engine.Later(&p, s.emitter, EventReset, s.state.UserID)
}

// Get returns the progress of one badge.
func (s *Service) Get(id string) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return Progress{}, false
	}
	return s.state.Progress[id], true
}

// Unlocked returns unlocked badges ordered by unlock time.
func (s *Service) Unlocked() []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Progress
	for _, p := range s.state.Progress {
		if p.Unlocked {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnlockedAt != out[j].UnlockedAt {
			return out[i].UnlockedAt < out[j].UnlockedAt
		}
		return out[i].BadgeID < out[j].BadgeID
	})
	return out
}

// Definitions returns the badge definitions in configuration order. Hidden
// badges are skipped unless unlocked or includeHidden is set.
func (s *Service) Definitions(includeHidden bool) []Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Definition, 0, len(s.order))
	for _, id := range s.order {
		d := s.defs[id]
		if d.Hidden && !includeHidden && !s.state.Progress[id].Unlocked {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.state)
}

func (s *Service) Subscribe(fn func(name string, payload any)) func() {
	return s.emitter.Watch(fn, Events...)
}

// OnUnlocked registers a typed unlock handler.
func (s *Service) OnUnlocked(fn func(Unlock)) func() {
	return engine.On(s.emitter, EventUnlocked, fn)
}

func clone(st State) State {
	progress := make(map[string]Progress, len(st.Progress))
	for k, v := range st.Progress {
		progress[k] = v
	}
	st.Progress = progress
	return st
}
