package notifications

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playkit/badges"
	"playkit/core"
	"playkit/levels"
	"playkit/progression"
	"playkit/quests"
	"playkit/streaks"
)

func newService(t *testing.T, cfg Config) (*Service, *core.ManualClock) {
	t.Helper()
	clock := core.NewManualClock(time.Date(2024, 8, 1, 8, 0, 0, 0, time.UTC))
	cfg.UserID = "alice"
	cfg.Clock = clock
	cfg.IDs = core.SequentialIDs("n")
	s, err := New(cfg, nil)
	require.NoError(t, err)
	return s, clock
}

func TestNotifyAndRead(t *testing.T) {
	var seen []Notification
	s, _ := newService(t, Config{OnNotify: func(n Notification) { seen = append(seen, n) }})
	var events []string
	s.Subscribe(func(name string, _ any) { events = append(events, name) })

	a, err := s.Notify(Input{Title: "hello"})
	require.NoError(t, err)
	assert.Equal(t, KindInfo, a.Kind)
	_, err = s.Notify(Input{Title: "second", Kind: KindWarning})
	require.NoError(t, err)

	assert.Equal(t, 2, s.UnreadCount())
	assert.Equal(t, "second", s.List()[0].Title, "newest first")

	res := s.MarkRead(a.ID)
	require.True(t, res.OK())
	assert.True(t, res.Value.Read)
	require.True(t, s.MarkRead(a.ID).OK())
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, 1, s.MarkAllRead())
	assert.Equal(t, 0, s.MarkAllRead())
	assert.Empty(t, s.Unread())

	assert.Len(t, seen, 2)
	assert.Equal(t, []string{"notification_added", "notification_added", "notification_read", "notification_read"}, events)

	assert.True(t, errors.Is(s.MarkRead("nope").Err(), core.ErrNotFound))
	_, err = s.Notify(Input{})
	assert.True(t, core.IsValidation(err))
}

func TestCapacityDropsOldest(t *testing.T) {
	s, _ := newService(t, Config{Capacity: 2})
	for _, title := range []string{"a", "b", "c"} {
		_, err := s.Notify(Input{Title: title})
		require.NoError(t, err)
	}
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].Title)
	assert.Equal(t, "b", list[1].Title)
}

func TestDismissAndClear(t *testing.T) {
	s, _ := newService(t, Config{})
	a, _ := s.Notify(Input{Title: "a"})
	_, _ = s.Notify(Input{Title: "b"})

	res := s.Dismiss(a.ID)
	require.True(t, res.OK())
	assert.Len(t, s.List(), 1)
	assert.True(t, errors.Is(s.Dismiss(a.ID).Err(), core.ErrNotFound))

	s.Clear()
	assert.Empty(t, s.List())
	assert.NotNil(t, s.Snapshot().Items)
}

func TestCheckExpired(t *testing.T) {
	s, clock := newService(t, Config{TTL: time.Minute})
	short, _ := s.Notify(Input{Title: "short", TTL: 10 * time.Second})
	_, _ = s.Notify(Input{Title: "default"})

	var events []string
	s.Subscribe(func(name string, _ any) { events = append(events, name) })

	clock.Advance(10 * time.Second)
	assert.Equal(t, []string{short.ID}, s.CheckExpired(clock.Now()))
	assert.Nil(t, s.CheckExpired(clock.Now()), "idempotent")

	clock.Advance(time.Minute)
	s.Tick(clock.Now())
	assert.Empty(t, s.List())
	assert.Equal(t, []string{"notifications_expired", "notifications_expired"}, events)
}

func TestRestoreTrimsToCapacity(t *testing.T) {
	st := &State{Items: []Notification{{ID: "1", Title: "a"}, {ID: "2", Title: "b"}, {ID: "3", Title: "c"}}}
	s, err := New(Config{UserID: "bob", Capacity: 2}, st)
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, core.UserID("bob"), snap.UserID)
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "2", snap.Items[0].ID)
}

func TestBridge(t *testing.T) {
	n, _ := newService(t, Config{})

	lv, err := levels.New(levels.Config{UserID: "alice", Formula: progression.Linear, BaseXP: 100}, nil)
	require.NoError(t, err)
	bd, err := badges.New(badges.Config{UserID: "alice", Badges: []badges.Definition{
		{ID: "starter", Name: "Starter", Conditions: []badges.Condition{{Target: 1}}},
	}}, nil)
	require.NoError(t, err)
	qs, err := quests.New(quests.Config{UserID: "alice", Quests: []quests.Definition{
		{ID: "intro", Name: "Intro", Objectives: []quests.ObjectiveDef{{ID: "talk", Target: 1}}},
	}}, nil)
	require.NoError(t, err)
	sk, err := streaks.New(streaks.Config{UserID: "alice", Milestones: []int{1}}, nil)
	require.NoError(t, err)

	stop := Bridge(n, Sources{Levels: lv, Badges: bd, Quests: qs, Streaks: sk})

	_, err = lv.AddXP(100, "")
	require.NoError(t, err)
	_, err = bd.IncrementProgress("starter", 1)
	require.NoError(t, err)
	require.True(t, qs.StartQuest("intro").OK())
	_, err = qs.IncrementObjective("intro", "talk", 1)
	require.NoError(t, err)
	sk.RecordActivity()

	titles := []string{}
	for _, item := range n.List() {
		titles = append(titles, item.Title)
	}
	assert.Equal(t, []string{
		"1 period streak!", "Quest complete: Intro", "Badge unlocked: Starter", "Level 2 reached",
	}, titles)

	stop()
	_, err = lv.AddXP(1000, "")
	require.NoError(t, err)
	assert.Len(t, n.List(), 4)
}
