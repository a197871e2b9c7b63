// Package notifications keeps a bounded, expiring queue of user-facing
// notifications. Presentation is left to the caller.
package notifications

import (
	"sync"
	"time"

	"playkit/core"
	"playkit/engine"
)

// Kind classifies a notification for presentation.
type Kind string

const (
	KindInfo        Kind = "info"
	KindSuccess     Kind = "success"
	KindWarning     Kind = "warning"
	KindError       Kind = "error"
	KindAchievement Kind = "achievement"
)

// Notification is one queued message.
type Notification struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Feature   core.Feature   `json:"feature,omitempty"`
	Title     string         `json:"title"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt int64          `json:"created_at"`
	ExpiresAt int64          `json:"expires_at,omitempty"`
}

// Input describes a notification to enqueue.
type Input struct {
	Kind    Kind
	Feature core.Feature
	Title   string
	Message string
	Data    map[string]any
	// TTL overrides Config.TTL when positive.
	TTL time.Duration
}

// State is the persisted snapshot, oldest first.
type State struct {
	UserID      core.UserID    `json:"user_id"`
	Items       []Notification `json:"items"`
	LastUpdated int64          `json:"last_updated"`
}

// Config parameterises a Service.
type Config struct {
	UserID core.UserID
	// Capacity bounds the queue; the oldest items are dropped first.
	// Defaults to 50.
	Capacity int
	// TTL of zero keeps notifications until dismissed.
	TTL time.Duration

	OnNotify func(Notification)

	Clock core.Clock
	IDs   core.IDGenerator
}

var (
	EventAdded     = engine.NewEvent[Notification]("notification_added")
	EventRead      = engine.NewEvent[[]string]("notification_read")
	EventDismissed = engine.NewEvent[Notification]("notification_dismissed")
	EventExpired   = engine.NewEvent[[]string]("notifications_expired")
	EventCleared   = engine.NewEvent[int]("notifications_cleared")
)

// Events lists every event after which the snapshot changed.
var Events = []string{
	EventAdded.Name(), EventRead.Name(), EventDismissed.Name(),
	EventExpired.Name(), EventCleared.Name(),
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
	ids     core.IDGenerator
	emitter *engine.Emitter
	state   State
}

func New(cfg Config, state *State) (*Service, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = 50
	}
	if cfg.Capacity < 0 {
		return nil, core.Validationf("capacity", "cannot be negative, got %d", cfg.Capacity)
	}
	if cfg.TTL < 0 {
		return nil, core.Validationf("ttl", "cannot be negative, got %s", cfg.TTL)
	}
	s := &Service{cfg: cfg, clock: core.ClockOrSystem(cfg.Clock), ids: cfg.IDs, emitter: engine.NewEmitter()}
	if s.ids == nil {
		s.ids = core.NewID
	}
	if state == nil {
		s.state = State{UserID: cfg.UserID, Items: []Notification{}, LastUpdated: core.Millis(s.clock.Now())}
		return s, nil
	}
	s.state = clone(*state)
	if s.state.UserID == "" {
		s.state.UserID = cfg.UserID
	}
	s.trim()
	return s, nil
}

func (s *Service) trim() {
	if over := len(s.state.Items) - s.cfg.Capacity; over > 0 {
		s.state.Items = append([]Notification{}, s.state.Items[over:]...)
	}
}

// Notify enqueues a notification.
func (s *Service) Notify(in Input) (Notification, error) {
	if in.Title == "" {
		return Notification{}, core.NewValidationError("title", "cannot be empty")
	}
	if in.TTL < 0 {
		return Notification{}, core.Validationf("ttl", "cannot be negative, got %s", in.TTL)
	}
	if in.Kind == "" {
		in.Kind = KindInfo
	}
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := Notification{
		ID:        s.ids(),
		Kind:      in.Kind,
		Feature:   in.Feature,
		Title:     in.Title,
		Message:   in.Message,
		Data:      in.Data,
		CreatedAt: core.Millis(now),
	}
	ttl := s.cfg.TTL
	if in.TTL > 0 {
		ttl = in.TTL
	}
	if ttl > 0 {
		n.ExpiresAt = core.Millis(now.Add(ttl))
	}
	s.state.Items = append(s.state.Items, n)
	s.trim()
	s.state.LastUpdated = n.CreatedAt

	engine.Callback(&p, s.cfg.OnNotify, n)
	engine.Later(&p, s.emitter, EventAdded, n)
	return n, nil
}

func (s *Service) index(id string) int {
	for i, n := range s.state.Items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// MarkRead marks one notification as read. Marking a read notification
// again succeeds without an event.
func (s *Service) MarkRead(id string) core.Result[Notification] {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return core.Fail[Notification](core.FailureNotFound, "notification %q not found", id)
	}
	if !s.state.Items[i].Read {
		s.state.Items[i].Read = true
		s.state.LastUpdated = core.Millis(s.clock.Now())
		engine.Later(&p, s.emitter, EventRead, []string{id})
	}
	return core.Succeed(s.state.Items[i])
}

// MarkAllRead marks every unread notification and returns how many changed.
func (s *Service) MarkAllRead() int {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for i := range s.state.Items {
		if !s.state.Items[i].Read {
			s.state.Items[i].Read = true
			ids = append(ids, s.state.Items[i].ID)
		}
	}
	if len(ids) > 0 {
		s.state.LastUpdated = core.Millis(s.clock.Now())
		engine.Later(&p, s.emitter, EventRead, ids)
	}
	return len(ids)
}

// Dismiss removes one notification.
func (s *Service) Dismiss(id string) core.Result[Notification] {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return core.Fail[Notification](core.FailureNotFound, "notification %q not found", id)
	}
	n := s.state.Items[i]
	s.state.Items = append(s.state.Items[:i:i], s.state.Items[i+1:]...)
	s.state.LastUpdated = core.Millis(s.clock.Now())
	engine.Later(&p, s.emitter, EventDismissed, n)
	return core.Succeed(n)
}

// Clear removes every notification.
func (s *Service) Clear() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.state.Items)
	s.state.Items = []Notification{}
	s.state.LastUpdated = core.Millis(s.clock.Now())
	engine.Later(&p, s.emitter, EventCleared, n)
}

// CheckExpired drops notifications whose TTL has passed and returns their
// ids. It is idempotent.
func (s *Service) CheckExpired(now time.Time) []string {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	ms := core.Millis(now)
	var expired []string
	kept := s.state.Items[:0:0]
	for _, n := range s.state.Items {
		if n.ExpiresAt > 0 && ms >= n.ExpiresAt {
			expired = append(expired, n.ID)
			continue
		}
		kept = append(kept, n)
	}
	if len(expired) == 0 {
		return nil
	}
	s.state.Items = kept
	s.state.LastUpdated = ms
	engine.Later(&p, s.emitter, EventExpired, expired)
	return expired
}

// Tick runs CheckExpired.
func (s *Service) Tick(now time.Time) { s.CheckExpired(now) }

// List returns all notifications, newest first.
func (s *Service) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.state.Items))
	for i, n := range s.state.Items {
		out[len(out)-1-i] = n
	}
	return out
}

// Unread returns unread notifications, newest first.
func (s *Service) Unread() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for i := len(s.state.Items) - 1; i >= 0; i-- {
		if !s.state.Items[i].Read {
			out = append(out, s.state.Items[i])
		}
	}
	return out
}

// UnreadCount returns the number of unread notifications.
func (s *Service) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := 0
	for _, n := range s.state.Items {
		if !n.Read {
			c++
		}
	}
	return c
}

func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.state)
}

func (s *Service) Subscribe(fn func(name string, payload any)) func() {
	return s.emitter.Watch(fn, Events...)
}

// OnAdded registers a typed handler for new notifications.
func (s *Service) OnAdded(fn func(Notification)) func() {
	return engine.On(s.emitter, EventAdded, fn)
}

func clone(st State) State {
	st.Items = append([]Notification{}, st.Items...)
	return st
}
