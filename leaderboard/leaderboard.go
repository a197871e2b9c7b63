// Package leaderboard implements a ranked score board backed by a skip list.
package leaderboard

import (
	"sync"

	"playkit/core"
	"playkit/engine"
)

// Policy decides how a new submission combines with an existing score.
type Policy string

const (
	// PolicyBest keeps the better of the old and new score.
	PolicyBest Policy = "best"
	// PolicyLatest always replaces the score.
	PolicyLatest Policy = "latest"
	// PolicySum adds the submission to the existing score.
	PolicySum Policy = "sum"
)

// Entry is one row of the board. Rank is 1-based and filled in on reads.
type Entry struct {
	UserID    core.UserID `json:"user_id"`
	Name      string      `json:"name,omitempty"`
	Score     int64       `json:"score"`
	UpdatedAt int64       `json:"updated_at"`
	Rank      int         `json:"rank,omitempty"`
}

// State is the persisted snapshot: the entries in rank order.
type State struct {
	BoardID     string  `json:"board_id"`
	Entries     []Entry `json:"entries"`
	LastUpdated int64   `json:"last_updated"`
}

// Submission is the payload of score_submitted.
type Submission struct {
	Entry        Entry `json:"entry"`
	PreviousRank int   `json:"previous_rank"`
	Improved     bool  `json:"improved"`
}

// RankChange is the payload of rank_changed.
type RankChange struct {
	UserID       core.UserID `json:"user_id"`
	PreviousRank int         `json:"previous_rank"`
	NewRank      int         `json:"new_rank"`
}

// Config parameterises a Service.
type Config struct {
	BoardID string
	// Ascending ranks lower scores first, e.g. for time trials.
	Ascending bool
	Policy    Policy
	// MaxEntries trims the board from the bottom. Zero means unlimited.
	MaxEntries int

	OnRankChange func(RankChange)

	Clock core.Clock
}

var (
	EventSubmitted   = engine.NewEvent[Submission]("score_submitted")
	EventRankChanged = engine.NewEvent[RankChange]("rank_changed")
	EventRemoved     = engine.NewEvent[Entry]("entry_removed")
	EventReset       = engine.NewEvent[string]("reset")
)

// Events lists every event after which the snapshot changed.
var Events = []string{EventSubmitted.Name(), EventRankChanged.Name(), EventRemoved.Name(), EventReset.Name()}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
	emitter *engine.Emitter
	list    *skipList
	updated int64
}

func New(cfg Config, state *State) (*Service, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicyBest
	}
	switch cfg.Policy {
	case PolicyBest, PolicyLatest, PolicySum:
	default:
		return nil, core.Validationf("policy", "unknown policy %q", cfg.Policy)
	}
	if cfg.MaxEntries < 0 {
		return nil, core.Validationf("max_entries", "cannot be negative, got %d", cfg.MaxEntries)
	}
	s := &Service{
		cfg:     cfg,
		clock:   core.ClockOrSystem(cfg.Clock),
		emitter: engine.NewEmitter(),
		list:    newSkipList(cfg.Ascending),
	}
	s.updated = core.Millis(s.clock.Now())
	if state != nil {
		if s.cfg.BoardID == "" {
			s.cfg.BoardID = state.BoardID
		}
		for _, e := range state.Entries {
			if e.UserID == "" {
				continue
			}
			e.Rank = 0
			s.list.upsert(e)
		}
		s.updated = state.LastUpdated
		s.trim()
	}
	return s, nil
}

func (s *Service) better(a, b int64) bool {
	if s.cfg.Ascending {
		return a < b
	}
	return a > b
}

// Submit records a score for user according to the board policy.
func (s *Service) Submit(user core.UserID, score int64, name string) (Entry, error) {
	if user == "" {
		return Entry{}, core.NewValidationError("user_id", "cannot be empty")
	}
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := core.Millis(s.clock.Now())
	prevRank := s.list.rank(user)
	old, had := s.list.get(user)

	e := Entry{UserID: user, Name: name, Score: score, UpdatedAt: now}
	if had && name == "" {
		e.Name = old.Name
	}
	improved := !had
	switch {
	case !had:
	case s.cfg.Policy == PolicySum:
		e.Score = core.AddSaturating(old.Score, score)
		improved = e.Score != old.Score
	case s.cfg.Policy == PolicyBest && !s.better(score, old.Score):
		e.Score = old.Score
		e.UpdatedAt = old.UpdatedAt
	default:
		improved = s.better(score, old.Score)
	}
	s.list.upsert(e)
	s.trim()
	s.updated = now

	e.Rank = s.list.rank(user)
	engine.Later(&p, s.emitter, EventSubmitted, Submission{Entry: e, PreviousRank: prevRank, Improved: improved})
	if e.Rank != prevRank {
		rc := RankChange{UserID: user, PreviousRank: prevRank, NewRank: e.Rank}
		engine.Callback(&p, s.cfg.OnRankChange, rc)
		engine.Later(&p, s.emitter, EventRankChanged, rc)
	}
	return e, nil
}

func (s *Service) trim() {
	if s.cfg.MaxEntries == 0 {
		return
	}
	for s.list.length > s.cfg.MaxEntries {
		s.list.delete(s.list.byRank(s.list.length).e)
	}
}

// Remove deletes user from the board.
func (s *Service) Remove(user core.UserID) core.Result[Entry] {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.list.get(user)
	if !ok {
		return core.Fail[Entry](core.FailureNotFound, "user %q is not ranked", user)
	}
	e.Rank = s.list.rank(user)
	s.list.delete(e)
	s.updated = core.Millis(s.clock.Now())
	engine.Later(&p, s.emitter, EventRemoved, e)
	return core.Succeed(e)
}

// Top returns the first n entries.
func (s *Service) Top(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.slice(1, n)
}

// Rank returns user's entry with its rank.
func (s *Service) Rank(user core.UserID) core.Result[Entry] {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.list.get(user)
	if !ok {
		return core.Fail[Entry](core.FailureNotFound, "user %q is not ranked", user)
	}
	e.Rank = s.list.rank(user)
	return core.Succeed(e)
}

// Around returns up to radius entries on each side of user.
func (s *Service) Around(user core.UserID, radius int) core.Result[[]Entry] {
	if radius < 0 {
		radius = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.list.rank(user)
	if r == 0 {
		return core.Fail[[]Entry](core.FailureNotFound, "user %q is not ranked", user)
	}
	return core.Succeed(s.list.slice(r-radius, r+radius))
}

// Len returns the number of ranked users.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.length
}

// Reset empties the board.
func (s *Service) Reset() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = newSkipList(s.cfg.Ascending)
	s.updated = core.Millis(s.clock.Now())
	engine.Later(&p, s.emitter, EventReset, s.cfg.BoardID)
}

// Snapshot returns all entries in rank order.
func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.list.slice(1, s.list.length)
	if entries == nil {
		entries = []Entry{}
	}
	return State{BoardID: s.cfg.BoardID, Entries: entries, LastUpdated: s.updated}
}

func (s *Service) Subscribe(fn func(name string, payload any)) func() {
	return s.emitter.Watch(fn, Events...)
}

// OnRankChanged registers a typed rank change handler.
func (s *Service) OnRankChanged(fn func(RankChange)) func() {
	return engine.On(s.emitter, EventRankChanged, fn)
}
