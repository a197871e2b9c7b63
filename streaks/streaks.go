// Package streaks counts consecutive periods with activity.
//
// Time is divided into fixed periods (24h by default) aligned to the Unix
// epoch plus Offset. Activity in the period right after the last active one
// extends the streak; a whole missed period breaks it.
package streaks

import (
	"slices"
	"sync"
	"time"

	"playkit/core"
	"playkit/engine"
)

// DefaultMilestones are used when Config.Milestones is nil.
var DefaultMilestones = []int{3, 7, 14, 30, 60, 100, 365}

// Record is a finished streak.
type Record struct {
	Length    int   `json:"length"`
	StartedAt int64 `json:"started_at"`
	EndedAt   int64 `json:"ended_at"`
}

// State is the persisted snapshot.
type State struct {
	UserID          core.UserID `json:"user_id"`
	Current         int         `json:"current"`
	Longest         int         `json:"longest"`
	StartedAt       int64       `json:"started_at,omitempty"`
	LastActivity    int64       `json:"last_activity,omitempty"`
	TotalActivities int         `json:"total_activities"`
	// Milestones reached by the current streak.
	Milestones  []int    `json:"milestones"`
	History     []Record `json:"history"`
	LastUpdated int64    `json:"last_updated"`
}

// Activity is the payload of activity_recorded and streak_extended.
type Activity struct {
	UserID   core.UserID `json:"user_id"`
	Current  int         `json:"current"`
	Longest  int         `json:"longest"`
	Extended bool        `json:"extended"`
	At       int64       `json:"at"`
}

// Break is the payload of streak_broken.
type Break struct {
	UserID core.UserID `json:"user_id"`
	Record Record      `json:"record"`
}

// Milestone is the payload of streak_milestone.
type Milestone struct {
	UserID core.UserID `json:"user_id"`
	Length int         `json:"length"`
}

// Config parameterises a Service.
type Config struct {
	UserID core.UserID
	// Period is the streak granularity. Defaults to 24h.
	Period time.Duration
	// Offset shifts period boundaries, e.g. to a user's local midnight.
	Offset     time.Duration
	Milestones []int

	OnExtend    func(Activity)
	OnBreak     func(Break)
	OnMilestone func(Milestone)

	Clock core.Clock
}

var (
	EventActivity  = engine.NewEvent[Activity]("activity_recorded")
	EventExtended  = engine.NewEvent[Activity]("streak_extended")
	EventBroken    = engine.NewEvent[Break]("streak_broken")
	EventMilestone = engine.NewEvent[Milestone]("streak_milestone")
	EventReset     = engine.NewEvent[core.UserID]("reset")
)

// Events lists every event after which the snapshot changed.
var Events = []string{
	EventActivity.Name(), EventExtended.Name(), EventBroken.Name(),
	EventMilestone.Name(), EventReset.Name(),
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
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
	if cfg.Milestones == nil {
		cfg.Milestones = DefaultMilestones
	}
	for _, m := range cfg.Milestones {
		if m <= 0 {
			return nil, core.Validationf("milestones", "must be positive, got %d", m)
		}
	}
	s := &Service{cfg: cfg, clock: core.ClockOrSystem(cfg.Clock), emitter: engine.NewEmitter()}
	if state == nil {
		s.state = s.fresh(cfg.UserID)
		return s, nil
	}
	s.state = clone(*state)
	if s.state.UserID == "" {
		s.state.UserID = cfg.UserID
	}
	return s, nil
}

func (s *Service) fresh(user core.UserID) State {
	return State{
		UserID:      user,
		Milestones:  []int{},
		History:     []Record{},
		LastUpdated: core.Millis(s.clock.Now()),
	}
}

func (s *Service) bucket(ms int64) int64 {
	t := ms - s.cfg.Offset.Milliseconds()
	p := s.cfg.Period.Milliseconds()
	if t < 0 {
		return (t - p + 1) / p
	}
	return t / p
}

// RecordActivity registers activity now. The first activity of a period
// extends the streak; later ones only count.
func (s *Service) RecordActivity() Activity {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := core.Millis(s.clock.Now())
	extended := false
	switch {
	case s.state.Current == 0:
		s.state.Current = 1
		s.state.StartedAt = now
		extended = true
	case s.bucket(now) > s.bucket(s.state.LastActivity)+1:
		// missed a period and no tick noticed yet
		s.breakStreak(&p, now)
		s.state.Current = 1
		s.state.StartedAt = now
		extended = true
	case s.bucket(now) == s.bucket(s.state.LastActivity)+1:
		s.state.Current++
		extended = true
	}
	s.state.LastActivity = now
	s.state.TotalActivities++
	s.state.LastUpdated = now
	s.state.Longest = max(s.state.Longest, s.state.Current)

	a := Activity{
		UserID:   s.state.UserID,
		Current:  s.state.Current,
		Longest:  s.state.Longest,
		Extended: extended,
		At:       now,
	}
	if !extended {
		engine.Later(&p, s.emitter, EventActivity, a)
		return a
	}
	engine.Callback(&p, s.cfg.OnExtend, a)
	engine.Later(&p, s.emitter, EventExtended, a)
	if slices.Contains(s.cfg.Milestones, s.state.Current) && !slices.Contains(s.state.Milestones, s.state.Current) {
		s.state.Milestones = append(s.state.Milestones, s.state.Current)
		m := Milestone{UserID: s.state.UserID, Length: s.state.Current}
		engine.Callback(&p, s.cfg.OnMilestone, m)
		engine.Later(&p, s.emitter, EventMilestone, m)
	}
	return a
}

func (s *Service) breakStreak(p *engine.Pending, now int64) {
	rec := Record{Length: s.state.Current, StartedAt: s.state.StartedAt, EndedAt: now}
	s.state.History = append(s.state.History, rec)
	s.state.Current = 0
	s.state.StartedAt = 0
	s.state.Milestones = []int{}
	s.state.LastUpdated = now
	b := Break{UserID: s.state.UserID, Record: rec}
	engine.Callback(p, s.cfg.OnBreak, b)
	engine.Later(p, s.emitter, EventBroken, b)
}

// CheckStreakStatus breaks the streak if a whole period passed without
// activity and reports whether it did. It is idempotent.
func (s *Service) CheckStreakStatus(now time.Time) bool {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	ms := core.Millis(now)
	if s.state.Current == 0 || s.bucket(ms) <= s.bucket(s.state.LastActivity)+1 {
		return false
	}
	s.breakStreak(&p, ms)
	return true
}

// Tick runs CheckStreakStatus.
func (s *Service) Tick(now time.Time) { s.CheckStreakStatus(now) }

// AtRisk reports whether the streak breaks unless activity is recorded in
// the current period.
func (s *Service) AtRisk(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Current > 0 && s.bucket(core.Millis(now)) == s.bucket(s.state.LastActivity)+1
}

// Reset clears the streak and its history.
func (s *Service) Reset() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.fresh(s.state.UserID)
	engine.Later(&p, s.emitter, EventReset, s.state.UserID)
}

// Current returns the current streak length.
func (s *Service) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Current
}

func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.state)
}

func (s *Service) Subscribe(fn func(name string, payload any)) func() {
	return s.emitter.Watch(fn, Events...)
}

// OnBroken registers a typed break handler.
func (s *Service) OnBroken(fn func(Break)) func() {
	return engine.On(s.emitter, EventBroken, fn)
}

// OnMilestone registers a typed milestone handler.
func (s *Service) OnMilestone(fn func(Milestone)) func() {
	return engine.On(s.emitter, EventMilestone, fn)
}

func clone(st State) State {
	st.Milestones = append([]int{}, st.Milestones...)
	st.History = append([]Record{}, st.History...)
	return st
}
