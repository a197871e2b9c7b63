// Package quests implements per-quest state machines with objectives.
//
//	available -> in_progress -> completed | failed | expired
//	any non-available status -> available (reset)
package quests

import (
	"sync"
	"time"

	"playkit/core"
	"playkit/engine"
)

// Status is a quest's lifecycle state.
type Status string

const (
	StatusAvailable  Status = "available"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further progress can be made without a reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// ObjectiveDef describes one objective of a quest.
type ObjectiveDef struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description"`
	Target      int64  `json:"target" yaml:"target"`
}

// Reward is handed to OnComplete; the service itself grants nothing.
type Reward struct {
	XP     int64  `json:"xp,omitempty" yaml:"xp"`
	Points int64  `json:"points,omitempty" yaml:"points"`
	Badge  string `json:"badge,omitempty" yaml:"badge"`
}

// Definition describes a quest.
type Definition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Objectives  []ObjectiveDef `json:"objectives" yaml:"objectives"`
	// TimeLimit of zero means the quest never expires.
	TimeLimit time.Duration `json:"time_limit,omitempty" yaml:"time_limit"`
	Reward    Reward        `json:"reward" yaml:"reward"`
}

// Objective is the persisted progress of one objective.
type Objective struct {
	ID        string `json:"id"`
	Current   int64  `json:"current"`
	Target    int64  `json:"target"`
	Completed bool   `json:"completed"`
}

// Quest is the persisted progress of one quest.
type Quest struct {
	QuestID     string      `json:"quest_id"`
	Status      Status      `json:"status"`
	Objectives  []Objective `json:"objectives"`
	StartedAt   int64       `json:"started_at,omitempty"`
	ExpiresAt   int64       `json:"expires_at,omitempty"`
	CompletedAt int64       `json:"completed_at,omitempty"`
	EndedAt     int64       `json:"ended_at,omitempty"`
}

// Percent returns the share of completed objective progress in [0, 100].
func (q Quest) Percent() int {
	var cur, target int64
	for _, o := range q.Objectives {
		cur += min(o.Current, o.Target)
		target += o.Target
	}
	if target == 0 {
		return 0
	}
	return int(cur * 100 / target)
}

// Transition is the payload of every status change event.
type Transition struct {
	UserID core.UserID `json:"user_id"`
	Quest  Quest       `json:"quest"`
	From   Status      `json:"from"`
	Reward *Reward     `json:"reward,omitempty"`
}

// ObjectiveUpdate is the payload of objective_progress.
type ObjectiveUpdate struct {
	QuestID   string    `json:"quest_id"`
	Objective Objective `json:"objective"`
}

// State is the persisted snapshot.
type State struct {
	UserID         core.UserID      `json:"user_id"`
	Quests         map[string]Quest `json:"quests"`
	ActiveQuests   []string         `json:"active_quests"`
	CompletedCount int              `json:"completed_count"`
	LastUpdated    int64            `json:"last_updated"`
}

// Config parameterises a Service.
type Config struct {
	UserID core.UserID
	Quests []Definition
	// MaxActiveQuests caps in-progress quests. Zero means unlimited.
	MaxActiveQuests int

	OnStart    func(Transition)
	OnComplete func(Transition)
	OnFail     func(Transition)
	OnExpire   func(Transition)

	Clock core.Clock
}

var (
	EventStarted    = engine.NewEvent[Transition]("quest_started")
	EventObjective  = engine.NewEvent[ObjectiveUpdate]("objective_progress")
	EventCompleted  = engine.NewEvent[Transition]("quest_completed")
	EventFailed     = engine.NewEvent[Transition]("quest_failed")
	EventExpired    = engine.NewEvent[Transition]("quest_expired")
	EventQuestReset = engine.NewEvent[Transition]("quest_reset")
	EventReset      = engine.NewEvent[core.UserID]("reset")
)

// Events lists every event after which the snapshot changed.
var Events = []string{
	EventStarted.Name(), EventObjective.Name(), EventCompleted.Name(), EventFailed.Name(),
	EventExpired.Name(), EventQuestReset.Name(), EventReset.Name(),
}

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
	if cfg.MaxActiveQuests < 0 {
		return nil, core.Validationf("max_active_quests", "cannot be negative, got %d", cfg.MaxActiveQuests)
	}
	s := &Service{
		cfg:     cfg,
		clock:   core.ClockOrSystem(cfg.Clock),
		defs:    make(map[string]Definition, len(cfg.Quests)),
		emitter: engine.NewEmitter(),
	}
	for _, d := range cfg.Quests {
		if err := validateDefinition(d); err != nil {
			return nil, err
		}
		if _, dup := s.defs[d.ID]; dup {
			return nil, core.Validationf("quests.id", "duplicate quest %q", d.ID)
		}
		s.defs[d.ID] = d
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
	if s.state.Quests == nil {
		s.state.Quests = make(map[string]Quest)
	}
	for _, id := range s.order {
		if _, ok := s.state.Quests[id]; !ok {
			s.state.Quests[id] = available(s.defs[id])
		}
	}
	s.rebuildActive()
	return s, nil
}

func validateDefinition(d Definition) error {
	if err := core.ValidateSlug("quests.id", d.ID); err != nil {
		return err
	}
	if len(d.Objectives) == 0 {
		return core.Validationf("quests.objectives", "quest %q has no objectives", d.ID)
	}
	seen := make(map[string]bool, len(d.Objectives))
	for _, o := range d.Objectives {
		if err := core.ValidateSlug("quests.objectives.id", o.ID); err != nil {
			return err
		}
		if seen[o.ID] {
			return core.Validationf("quests.objectives.id", "duplicate objective %q in quest %q", o.ID, d.ID)
		}
		seen[o.ID] = true
		if o.Target <= 0 {
			return core.Validationf("quests.objectives.target", "objective %q has non-positive target %d", o.ID, o.Target)
		}
	}
	if d.TimeLimit < 0 {
		return core.Validationf("quests.time_limit", "quest %q has negative time limit", d.ID)
	}
	return nil
}

func available(d Definition) Quest {
	q := Quest{QuestID: d.ID, Status: StatusAvailable, Objectives: make([]Objective, len(d.Objectives))}
	for i, o := range d.Objectives {
		q.Objectives[i] = Objective{ID: o.ID, Target: o.Target}
	}
	return q
}

// rebuildActive derives ActiveQuests from quest statuses in definition order
// so restored snapshots cannot carry a stale list.
func (s *Service) rebuildActive() {
	active := []string{}
	for _, id := range s.order {
		if s.state.Quests[id].Status == StatusInProgress {
			active = append(active, id)
		}
	}
	s.state.ActiveQuests = active
}

// StartQuest moves an available quest to in_progress. It fails without
// mutation when the quest is unknown, not available, or the active cap is
// reached.
func (s *Service) StartQuest(id string) core.Result[Quest] {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[id]
	if !ok {
		return core.Fail[Quest](core.FailureNotFound, "quest %q not found", id)
	}
	q := s.state.Quests[id]
	if q.Status != StatusAvailable {
		return core.Fail[Quest](core.FailureInvalidState, "quest %q is %s", id, q.Status)
	}
	if s.cfg.MaxActiveQuests > 0 && len(s.state.ActiveQuests) >= s.cfg.MaxActiveQuests {
		return core.Fail[Quest](core.FailureLimitExceeded, "at most %d active quests", s.cfg.MaxActiveQuests)
	}
	now := s.clock.Now()
	q = available(def)
	q.Status = StatusInProgress
	q.StartedAt = core.Millis(now)
	if def.TimeLimit > 0 {
		q.ExpiresAt = core.Millis(now.Add(def.TimeLimit))
	}
	s.put(q, now)

	t := Transition{UserID: s.state.UserID, Quest: cloneQuest(q), From: StatusAvailable}
	engine.Callback(&p, s.cfg.OnStart, t)
	engine.Later(&p, s.emitter, EventStarted, t)
	return core.Succeed(cloneQuest(q))
}

// UpdateObjective sets an objective's absolute progress. The quest
// completes when all objectives are complete.
func (s *Service) UpdateObjective(questID, objectiveID string, value int64) (core.Result[Quest], error) {
	if value < 0 {
		return core.Result[Quest]{}, core.Validationf("value", "cannot be negative, got %d", value)
	}
	return s.progress(questID, objectiveID, func(int64) int64 { return value }), nil
}

// IncrementObjective adds delta to an objective's progress.
func (s *Service) IncrementObjective(questID, objectiveID string, delta int64) (core.Result[Quest], error) {
	if delta <= 0 {
		return core.Result[Quest]{}, core.Validationf("delta", "must be positive, got %d", delta)
	}
	return s.progress(questID, objectiveID, func(cur int64) int64 { return core.AddSaturating(cur, delta) }), nil
}

func (s *Service) progress(questID, objectiveID string, next func(int64) int64) core.Result[Quest] {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.state.Quests[questID]
	if _, defined := s.defs[questID]; !ok || !defined {
		return core.Fail[Quest](core.FailureNotFound, "quest %q not found", questID)
	}
	if q.Status != StatusInProgress {
		return core.Fail[Quest](core.FailureInvalidState, "quest %q is %s", questID, q.Status)
	}
	q = cloneQuest(q)
	idx := -1
	for i, o := range q.Objectives {
		if o.ID == objectiveID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return core.Fail[Quest](core.FailureNotFound, "objective %q not found in quest %q", objectiveID, questID)
	}
	now := s.clock.Now()
	o := &q.Objectives[idx]
	if !o.Completed {
		o.Current = next(o.Current)
		o.Completed = o.Current >= o.Target
	}
	engine.Later(&p, s.emitter, EventObjective, ObjectiveUpdate{QuestID: questID, Objective: *o})

	if allComplete(q) {
		s.finish(&p, q, StatusCompleted, now)
		return core.Succeed(cloneQuest(s.state.Quests[questID]))
	}
	s.put(q, now)
	return core.Succeed(cloneQuest(q))
}

func allComplete(q Quest) bool {
	for _, o := range q.Objectives {
		if !o.Completed {
			return false
		}
	}
	return true
}

// CompleteQuest force-completes an in-progress quest.
func (s *Service) CompleteQuest(id string) core.Result[Quest] {
	return s.end(id, StatusCompleted)
}

// FailQuest marks an in-progress quest as failed.
func (s *Service) FailQuest(id string) core.Result[Quest] {
	return s.end(id, StatusFailed)
}

func (s *Service) end(id string, to Status) core.Result[Quest] {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.state.Quests[id]
	if _, defined := s.defs[id]; !ok || !defined {
		return core.Fail[Quest](core.FailureNotFound, "quest %q not found", id)
	}
	if q.Status != StatusInProgress {
		return core.Fail[Quest](core.FailureInvalidState, "quest %q is %s", id, q.Status)
	}
	s.finish(&p, cloneQuest(q), to, s.clock.Now())
	return core.Succeed(cloneQuest(s.state.Quests[id]))
}

// finish moves q from in_progress to a terminal status and queues the
// matching callback and event.
func (s *Service) finish(p *engine.Pending, q Quest, to Status, now time.Time) {
	q.Status = to
	q.EndedAt = core.Millis(now)
	t := Transition{UserID: s.state.UserID, From: StatusInProgress}
	switch to {
	case StatusCompleted:
		q.CompletedAt = q.EndedAt
		s.state.CompletedCount++
		reward := s.defs[q.QuestID].Reward
		t.Reward = &reward
		t.Quest = cloneQuest(q)
		engine.Callback(p, s.cfg.OnComplete, t)
		engine.Later(p, s.emitter, EventCompleted, t)
	case StatusFailed:
		t.Quest = cloneQuest(q)
		engine.Callback(p, s.cfg.OnFail, t)
		engine.Later(p, s.emitter, EventFailed, t)
	case StatusExpired:
		t.Quest = cloneQuest(q)
		engine.Callback(p, s.cfg.OnExpire, t)
		engine.Later(p, s.emitter, EventExpired, t)
	}
	s.put(q, now)
}

// ResetQuest returns a quest to available, discarding its progress.
func (s *Service) ResetQuest(id string) core.Result[Quest] {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[id]
	if !ok {
		return core.Fail[Quest](core.FailureNotFound, "quest %q not found", id)
	}
	from := s.state.Quests[id].Status
	if from == StatusAvailable {
		return core.Fail[Quest](core.FailureInvalidState, "quest %q is already available", id)
	}
	q := available(def)
	s.put(q, s.clock.Now())

	engine.Later(&p, s.emitter, EventQuestReset, Transition{UserID: s.state.UserID, Quest: cloneQuest(q), From: from})
	return core.Succeed(cloneQuest(q))
}

// CheckExpired expires every in-progress quest whose time limit has passed
// at now and returns their ids. Calling it again with no elapsed time is a
// no-op.
func (s *Service) CheckExpired(now time.Time) []string {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	ms := core.Millis(now)
	for _, id := range s.order {
		q := s.state.Quests[id]
		if q.Status == StatusInProgress && q.ExpiresAt > 0 && ms >= q.ExpiresAt {
			s.finish(&p, cloneQuest(q), StatusExpired, now)
			expired = append(expired, id)
		}
	}
	return expired
}

// Tick runs CheckExpired.
func (s *Service) Tick(now time.Time) { s.CheckExpired(now) }

// Reset returns every quest to available and clears the completed count.
func (s *Service) Reset() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	quests := make(map[string]Quest, len(s.order))
	for _, id := range s.order {
		quests[id] = available(s.defs[id])
	}
	s.state = State{
		UserID:       s.state.UserID,
		Quests:       quests,
		ActiveQuests: []string{},
		LastUpdated:  core.Millis(s.clock.Now()),
	}
	engine.Later(&p, s.emitter, EventReset, s.state.UserID)
}

func (s *Service) put(q Quest, now time.Time) {
	s.state.Quests[q.QuestID] = q
	s.state.LastUpdated = core.Millis(now)
	s.rebuildActive()
}

// Get returns one quest's progress.
func (s *Service) Get(id string) (Quest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return Quest{}, false
	}
	return cloneQuest(s.state.Quests[id]), true
}

// ByStatus returns quests with the given status in definition order.
func (s *Service) ByStatus(status Status) []Quest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Quest
	for _, id := range s.order {
		if q := s.state.Quests[id]; q.Status == status {
			out = append(out, cloneQuest(q))
		}
	}
	return out
}

// Active returns the in-progress quest ids.
func (s *Service) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.state.ActiveQuests...)
}

// Definition returns a quest definition.
func (s *Service) Definition(id string) (Definition, bool) {
	d, ok := s.defs[id]
	return d, ok
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
func (s *Service) OnCompleted(fn func(Transition)) func() {
	return engine.On(s.emitter, EventCompleted, fn)
}

func cloneQuest(q Quest) Quest {
	q.Objectives = append([]Objective(nil), q.Objectives...)
	return q
}

func clone(st State) State {
	quests := make(map[string]Quest, len(st.Quests))
	for k, v := range st.Quests {
		quests[k] = cloneQuest(v)
	}
	st.Quests = quests
	st.ActiveQuests = append([]string{}, st.ActiveQuests...)
	return st
}
