package sdk

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "playkit/adapters/memory"
	"playkit/analytics"
	"playkit/api/httpapi"
	"playkit/badges"
	"playkit/gamify"
	"playkit/leaderboard"
	"playkit/levels"
	"playkit/progression"
	"playkit/quests"
	"playkit/realtime"
)

// newTestServer runs the real API over an in-memory registry.
func newTestServer(t *testing.T, opts httpapi.Options) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub()
	cfg := gamify.KitConfig{
		Levels:        levels.Config{Formula: progression.Linear, BaseXP: 100},
		LevelUpPoints: 10,
		Badges: badges.Config{Badges: []badges.Definition{{
			ID:         "onboarded",
			Name:       "Onboarded",
			Conditions: []badges.Condition{{Type: "steps", Target: 2}},
		}}},
		Quests: quests.Config{Quests: []quests.Definition{{
			ID:         "tutorial",
			Name:       "Tutorial",
			Objectives: []quests.ObjectiveDef{{ID: "move", Target: 1}},
			Reward:     quests.Reward{XP: 40},
		}}},
	}
	reg, err := gamify.NewRegistry(context.Background(), mem.New(), cfg,
		leaderboard.Config{BoardID: "xp"},
		gamify.WithTickInterval(-1),
		gamify.WithRealtime(hub),
	)
	require.NoError(t, err)
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/api"
	}
	srv := httptest.NewServer(httpapi.NewMux(reg, hub, analytics.NewMetrics(), opts))
	t.Cleanup(func() {
		srv.Close()
		_ = reg.Close(context.Background())
	})
	return srv, hub
}

func TestClient_ProgressionRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})

	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := client.AddXP(ctx, "alice", 120, "onboarding")
	require.NoError(t, err)
	assert.Equal(t, int64(120), res.Transaction.Amount)
	assert.Equal(t, 2, res.Level.Level)

	balance, err := client.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	_, err = client.SpendPoints(ctx, "alice", 500, "shop")
	require.Error(t, err)
	assert.True(t, IsCode(err, "insufficient_balance"))

	p, err := client.IncrementBadge(ctx, "alice", "onboarded", 2)
	require.NoError(t, err)
	assert.True(t, p.Unlocked)

	q, err := client.StartQuest(ctx, "alice", "tutorial")
	require.NoError(t, err)
	assert.Equal(t, quests.StatusInProgress, q.Status)
	q, err = client.IncrementObjective(ctx, "alice", "tutorial", "move", 1)
	require.NoError(t, err)
	assert.Equal(t, quests.StatusCompleted, q.Status)

	lv, err := client.GetLevel(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(160), lv.TotalXP)

	act, err := client.RecordActivity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, act.Current)

	hit, err := client.ComboHit(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, hit.Count)

	unread, err := client.Notifications(ctx, "alice", true)
	require.NoError(t, err)
	require.NotEmpty(t, unread)
	n, err := client.MarkRead(ctx, "alice", unread[0].ID)
	require.NoError(t, err)
	assert.True(t, n.Read)

	user, err := client.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UserID)
	assert.Equal(t, 2, user.Level.Level)
	assert.Len(t, user.Badges, 1)
	assert.Equal(t, len(unread)-1, user.UnreadNotices)

	page, err := client.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, int64(160), page.Entries[0].Score)

	entry, err := client.Rank(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Rank)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})
	ctx := context.Background()

	_, err := NewClient(" ")
	assert.Error(t, err)

	client, err := NewClient(srv.URL + "/api/")
	require.NoError(t, err)

	_, err = client.AddXP(ctx, "", 10, "")
	assert.ErrorIs(t, err, ErrEmptyUserID)

	_, err = client.AddXP(ctx, "alice", 10, "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)

	authed, err := NewClient(srv.URL+"/api", WithAuthToken("k1"))
	require.NoError(t, err)
	_, err = authed.StartQuest(ctx, "alice", "missing")
	assert.True(t, IsCode(err, "not_found"))
	_, err = authed.ChallengeProgress(ctx, "alice", 1)
	assert.True(t, IsCode(err, "not_found"), "no pool configured")
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv, hub := newTestServer(t, httpapi.Options{})

	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "levels", "alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	// bob's event is filtered out server side
	_, err = client.AddXP(ctx, "bob", 10, "")
	require.NoError(t, err)
	_, err = client.AddXP(ctx, "alice", 25, "")
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, "levels", evt.Feature)
		assert.Equal(t, "xp_gained", evt.Type)
		assert.Equal(t, "alice", evt.UserID)
		var tx levels.XPTransaction
		require.NoError(t, json.Unmarshal(evt.Payload, &tx))
		assert.Equal(t, int64(25), tx.Amount)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/ws", deriveWSURL("http://localhost:8080/api"))
	assert.Equal(t, "wss://example.com/ws", deriveWSURL("https://example.com"))
}
