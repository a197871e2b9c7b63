// Package levels implements the XP and level progression service.
package levels

import (
	"sync"

	"playkit/core"
	"playkit/engine"
	"playkit/progression"
)

// LevelUp records a net level increase.
type LevelUp struct {
	PreviousLevel int   `json:"previous_level"`
	NewLevel      int   `json:"new_level"`
	TotalXP       int64 `json:"total_xp"`
	Timestamp     int64 `json:"timestamp"`
}

// XPTransaction is one immutable entry of the XP audit log. Amount is the
// requested change, negative for removals. Applied is the change to the
// total after flooring at zero.
type XPTransaction struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Applied     int64  `json:"applied"`
	Balance     int64  `json:"balance"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	LevelBefore int    `json:"level_before"`
	LevelAfter  int    `json:"level_after"`
}

// State is the persisted snapshot of one user's progression.
type State struct {
	UserID       core.UserID     `json:"user_id"`
	TotalXP      int64           `json:"total_xp"`
	Level        int             `json:"level"`
	LevelHistory []LevelUp       `json:"level_history"`
	XPHistory    []XPTransaction `json:"xp_history"`
	LastUpdated  int64           `json:"last_updated"`
}

// LevelData is the derived read view of a State.
type LevelData struct {
	Level      int   `json:"level"`
	TotalXP    int64 `json:"total_xp"`
	IsMaxLevel bool  `json:"is_max_level"`
	progression.Progress
}

// Config parameterises a Service. It is not persisted.
type Config struct {
	UserID        core.UserID
	Formula       progression.Formula
	BaseXP        int64
	ScalingFactor float64
	// MaxLevel caps progression. Zero means uncapped.
	MaxLevel int
	Custom   progression.CustomFunc

	OnLevelUp func(LevelUp)
	OnXPGain  func(XPTransaction)

	Clock core.Clock
	IDs   core.IDGenerator
}

var (
	EventXPGained  = engine.NewEvent[XPTransaction]("xp_gained")
	EventXPRemoved = engine.NewEvent[XPTransaction]("xp_removed")
	EventLevelUp   = engine.NewEvent[LevelUp]("level_up")
	EventLevelSet  = engine.NewEvent[LevelData]("level_set")
	EventReset     = engine.NewEvent[core.UserID]("reset")
)

// Events lists every event after which the snapshot changed.
var Events = []string{
	EventXPGained.Name(), EventXPRemoved.Name(), EventLevelUp.Name(),
	EventLevelSet.Name(), EventReset.Name(),
}

// Service owns one user's progression state.
type Service struct {
	mu      sync.Mutex
	curve   progression.Curve
	cfg     Config
	clock   core.Clock
	ids     core.IDGenerator
	emitter *engine.Emitter
	state   State
}

// New builds a service from cfg and an optional persisted state. A restored
// state has its level recomputed from total_xp; the stored level is only a
// cache and may be stale after a curve change.
func New(cfg Config, state *State) (*Service, error) {
	curve := progression.Curve{
		Formula:       cfg.Formula,
		BaseXP:        cfg.BaseXP,
		ScalingFactor: cfg.ScalingFactor,
		Custom:        cfg.Custom,
		MaxLevel:      cfg.MaxLevel,
	}.WithDefaults()
	if err := curve.Validate(); err != nil {
		return nil, core.NewValidationError("config", err.Error())
	}
	s := &Service{
		curve:   curve,
		cfg:     cfg,
		clock:   core.ClockOrSystem(cfg.Clock),
		ids:     cfg.IDs,
		emitter: engine.NewEmitter(),
	}
	if s.ids == nil {
		s.ids = core.NewID
	}
	if state == nil {
		s.state = s.fresh(cfg.UserID)
		return s, nil
	}
	s.state = clone(*state)
	if s.state.UserID == "" {
		s.state.UserID = cfg.UserID
	}
	if s.state.TotalXP < 0 {
		s.state.TotalXP = 0
	}
	s.state.Level = s.curve.LevelFromXP(s.state.TotalXP)
	if s.state.LevelHistory == nil {
		s.state.LevelHistory = []LevelUp{}
	}
	if s.state.XPHistory == nil {
		s.state.XPHistory = []XPTransaction{}
	}
	return s, nil
}

func (s *Service) fresh(user core.UserID) State {
	return State{
		UserID:       user,
		Level:        1,
		LevelHistory: []LevelUp{},
		XPHistory:    []XPTransaction{},
		LastUpdated:  core.Millis(s.clock.Now()),
	}
}

// AddXP awards amount XP. Multiple levels gained in one call are recorded as
// a single net level-up.
func (s *Service) AddXP(amount int64, reason string) (XPTransaction, error) {
	if amount <= 0 {
		return XPTransaction{}, core.Validationf("amount", "must be positive, got %d", amount)
	}
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := core.Millis(s.clock.Now())
	before := s.state.Level
	prev := s.state.TotalXP
	s.state.TotalXP = core.AddSaturating(s.state.TotalXP, amount)
	s.state.Level = s.curve.LevelFromXP(s.state.TotalXP)
	tx := s.record(amount, s.state.TotalXP-prev, reason, now, before)

	up, leveled := s.levelUp(before, now)

	engine.Callback(&p, s.cfg.OnXPGain, tx)
	if leveled {
		engine.Callback(&p, s.cfg.OnLevelUp, up)
	}
	engine.Later(&p, s.emitter, EventXPGained, tx)
	if leveled {
		engine.Later(&p, s.emitter, EventLevelUp, up)
	}
	return tx, nil
}

// RemoveXP takes away amount XP, flooring the total at zero. The level may
// drop; no level history entry is written for a decrease. The transaction
// carries -amount even when less was available to remove.
func (s *Service) RemoveXP(amount int64, reason string) (XPTransaction, error) {
	if amount <= 0 {
		return XPTransaction{}, core.Validationf("amount", "must be positive, got %d", amount)
	}
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := core.Millis(s.clock.Now())
	before := s.state.Level
	prev := s.state.TotalXP
	s.state.TotalXP -= amount
	if s.state.TotalXP < 0 {
		s.state.TotalXP = 0
	}
	s.state.Level = s.curve.LevelFromXP(s.state.TotalXP)
	tx := s.record(-amount, s.state.TotalXP-prev, reason, now, before)

	engine.Later(&p, s.emitter, EventXPRemoved, tx)
	return tx, nil
}

// SetLevel jumps to the floor XP of level, discarding partial progress.
func (s *Service) SetLevel(level int) error {
	if level < 1 {
		return core.Validationf("level", "must be at least 1, got %d", level)
	}
	if ceiling := s.curve.Ceiling(); ceiling > 0 && level > ceiling {
		return core.Validationf("level", "exceeds max level %d, got %d", ceiling, level)
	}
	floor := s.curve.XPForLevel(level)
	if derived := s.curve.LevelFromXP(floor); derived != level {
		return core.Validationf("level", "level %d is not reachable on this curve", level)
	}
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := core.Millis(s.clock.Now())
	before := s.state.Level
	prev := s.state.TotalXP
	s.state.TotalXP = floor
	s.state.Level = level
	s.record(s.state.TotalXP-prev, s.state.TotalXP-prev, "set_level", now, before)

	up, ok := s.levelUp(before, now)
	if ok {
		engine.Callback(&p, s.cfg.OnLevelUp, up)
	}
	engine.Later(&p, s.emitter, EventLevelSet, s.levelData())
	if ok {
		engine.Later(&p, s.emitter, EventLevelUp, up)
	}
	return nil
}

// Reset returns to a fresh zeroed state. Callbacks are not invoked.
func (s *Service) Reset() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.fresh(s.state.UserID)
	engine.Later(&p, s.emitter, EventReset, s.state.UserID)
}

func (s *Service) record(amount, applied int64, reason string, now int64, before int) XPTransaction {
	tx := XPTransaction{
		ID:          s.ids(),
		Amount:      amount,
		Applied:     applied,
		Balance:     s.state.TotalXP,
		Reason:      reason,
		Timestamp:   now,
		LevelBefore: before,
		LevelAfter:  s.state.Level,
	}
	s.state.XPHistory = append(s.state.XPHistory, tx)
	s.state.LastUpdated = now
	return tx
}

func (s *Service) levelUp(before int, now int64) (LevelUp, bool) {
	if s.state.Level <= before {
		return LevelUp{}, false
	}
	up := LevelUp{
		PreviousLevel: before,
		NewLevel:      s.state.Level,
		TotalXP:       s.state.TotalXP,
		Timestamp:     now,
	}
	s.state.LevelHistory = append(s.state.LevelHistory, up)
	return up, true
}

func (s *Service) levelData() LevelData {
	return LevelData{
		Level:      s.state.Level,
		TotalXP:    s.state.TotalXP,
		IsMaxLevel: s.curve.MaxLevel > 0 && s.state.Level >= s.curve.MaxLevel,
		Progress:   s.curve.Progress(s.state.TotalXP, s.state.Level),
	}
}

// GetLevelData returns the derived progress view.
func (s *Service) GetLevelData() LevelData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levelData()
}

// GetXPForLevel returns the cumulative XP needed to reach level.
func (s *Service) GetXPForLevel(level int) int64 { return s.curve.XPForLevel(level) }

// GetLevelFromXP returns the level reached with xp total XP.
func (s *Service) GetLevelFromXP(xp int64) int { return s.curve.LevelFromXP(xp) }

// Curve returns the resolved growth curve.
func (s *Service) Curve() progression.Curve { return s.curve }

// History returns a copy of the level-up history.
func (s *Service) History() []LevelUp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LevelUp(nil), s.state.LevelHistory...)
}

// Snapshot returns a deep copy of the state.
func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.state)
}

// Subscribe observes every state-changing event.
func (s *Service) Subscribe(fn func(name string, payload any)) func() {
	return s.emitter.Watch(fn, Events...)
}

// OnLevelUp registers a typed level-up handler.
func (s *Service) OnLevelUp(fn func(LevelUp)) func() {
	return engine.On(s.emitter, EventLevelUp, fn)
}

// OnXPGained registers a typed XP gain handler.
func (s *Service) OnXPGained(fn func(XPTransaction)) func() {
	return engine.On(s.emitter, EventXPGained, fn)
}

// Emitter exposes the service's emitter for typed subscriptions.
func (s *Service) Emitter() *engine.Emitter { return s.emitter }

func clone(st State) State {
	st.LevelHistory = append([]LevelUp{}, st.LevelHistory...)
	st.XPHistory = append([]XPTransaction{}, st.XPHistory...)
	return st
}
