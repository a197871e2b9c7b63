package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "playkit/adapters/memory"
	"playkit/analytics"
	"playkit/badges"
	"playkit/core"
	"playkit/gamify"
	"playkit/leaderboard"
	"playkit/levels"
	"playkit/progression"
	"playkit/quests"
)

func newTestRegistry(t *testing.T) (*gamify.Registry, *analytics.Metrics) {
	t.Helper()
	metrics := analytics.NewMetrics()
	cfg := gamify.KitConfig{
		Levels:        levels.Config{Formula: progression.Linear, BaseXP: 100},
		LevelUpPoints: 10,
		Badges: badges.Config{Badges: []badges.Definition{{
			ID:         "explorer",
			Name:       "Explorer",
			Conditions: []badges.Condition{{Type: "visits", Target: 3}},
		}}},
		Quests: quests.Config{Quests: []quests.Definition{{
			ID:         "intro",
			Name:       "Intro",
			Objectives: []quests.ObjectiveDef{{ID: "talk", Target: 2}},
			Reward:     quests.Reward{Points: 5},
		}}},
	}
	reg, err := gamify.NewRegistry(context.Background(), mem.New(), cfg,
		leaderboard.Config{BoardID: "xp"},
		gamify.WithTickInterval(-1),
		gamify.WithHook(metrics.OnEvent),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg, metrics
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestAddXPLevelsUpAndPaysPoints(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{PathPrefix: "/api"})

	rec := do(t, handler, http.MethodPost, "/api/users/alice/xp", `{"amount":150,"reason":"quest"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Transaction levels.XPTransaction `json:"transaction"`
		Level       levels.LevelData     `json:"level"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, int64(150), resp.Transaction.Amount)
	assert.Equal(t, 2, resp.Level.Level)
	assert.Equal(t, int64(150), resp.Level.TotalXP)

	rec = do(t, handler, http.MethodGet, "/api/users/alice/points", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pts struct {
		Balance int64 `json:"balance"`
	}
	decodeBody(t, rec, &pts)
	assert.Equal(t, int64(10), pts.Balance)
}

func TestXPValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{PathPrefix: "/api"})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"zero amount", http.MethodPost, "/api/users/alice/xp", `{"amount":0}`, http.StatusBadRequest, "invalid_input"},
		{"malformed body", http.MethodPost, "/api/users/alice/xp", `{"amount":`, http.StatusBadRequest, "invalid_body"},
		{"unknown field", http.MethodPost, "/api/users/alice/xp", `{"amount":1,"bonus":2}`, http.StatusBadRequest, "invalid_body"},
		{"blank user", http.MethodGet, "/api/users/%20/level", "", http.StatusBadRequest, "invalid_input"},
		{"level below one", http.MethodPut, "/api/users/alice/level", `{"level":0}`, http.StatusBadRequest, "invalid_input"},
		{"bad limit", http.MethodGet, "/api/users/alice/points?limit=x", "", http.StatusBadRequest, "invalid_query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, handler, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var e apiError
			decodeBody(t, rec, &e)
			assert.Equal(t, tt.code, e.Code)
		})
	}
}

func TestSetAndRemoveXP(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{})

	rec := do(t, handler, http.MethodPut, "/users/bob/level", `{"level":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var data levels.LevelData
	decodeBody(t, rec, &data)
	assert.Equal(t, 3, data.Level)

	rec = do(t, handler, http.MethodPost, "/users/bob/xp/remove", `{"amount":1000000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, handler, http.MethodGet, "/users/bob/level", "")
	decodeBody(t, rec, &data)
	assert.Equal(t, int64(0), data.TotalXP)
	assert.Equal(t, 1, data.Level)
}

func TestSpendInsufficientBalance(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{})

	rec := do(t, handler, http.MethodPost, "/users/alice/points/award", `{"amount":20}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodPost, "/users/alice/points/spend", `{"amount":50}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var e apiError
	decodeBody(t, rec, &e)
	assert.Equal(t, string(core.FailureInsufficientBalance), e.Code)

	rec = do(t, handler, http.MethodPost, "/users/alice/points/spend", `{"amount":15}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, handler, http.MethodGet, "/users/alice/points", "")
	var pts struct {
		Balance int64 `json:"balance"`
	}
	decodeBody(t, rec, &pts)
	assert.Equal(t, int64(5), pts.Balance)
}

func TestBadgeProgressAndUnlock(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{})

	rec := do(t, handler, http.MethodPost, "/users/alice/badges/explorer/progress", `{"delta":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p badges.Progress
	decodeBody(t, rec, &p)
	assert.Equal(t, int64(2), p.Current)
	assert.False(t, p.Unlocked)

	rec = do(t, handler, http.MethodPost, "/users/alice/badges/explorer/progress", `{"value":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &p)
	assert.True(t, p.Unlocked)

	rec = do(t, handler, http.MethodPost, "/users/alice/badges/explorer/unlock", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, handler, http.MethodPost, "/users/alice/badges/ghost/unlock", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuestFlow(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{})

	rec := do(t, handler, http.MethodPost, "/users/alice/quests/nope/start", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, handler, http.MethodPost, "/users/alice/quests/intro/objectives/talk", `{"delta":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "objective on a quest that was never started")

	rec = do(t, handler, http.MethodPost, "/users/alice/quests/intro/start", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, handler, http.MethodPost, "/users/alice/quests/intro/objectives/talk", `{"value":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var q quests.Quest
	decodeBody(t, rec, &q)
	assert.Equal(t, quests.StatusCompleted, q.Status)

	rec = do(t, handler, http.MethodGet, "/users/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Points        int64 `json:"points"`
		UnreadNotices int   `json:"unread_notifications"`
	}
	decodeBody(t, rec, &sum)
	assert.Equal(t, int64(5), sum.Points)
	assert.Equal(t, 1, sum.UnreadNotices)
}

func TestNotifications(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{})

	require.Equal(t, http.StatusOK, do(t, handler, http.MethodPost, "/users/alice/xp", `{"amount":300}`).Code)

	rec := do(t, handler, http.MethodGet, "/users/alice/notifications?unread=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Level 3 reached", list[0].Title)

	rec = do(t, handler, http.MethodPost, "/users/alice/notifications/"+list[0].ID+"/read", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, handler, http.MethodPost, "/users/alice/notifications/read-all", "")
	var marked map[string]int
	decodeBody(t, rec, &marked)
	assert.Equal(t, 0, marked["marked"])

	rec = do(t, handler, http.MethodPost, "/users/alice/notifications/missing/read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreakComboAndChallenge(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{})

	rec := do(t, handler, http.MethodPost, "/users/alice/streak/activity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var act struct {
		Current int `json:"current"`
	}
	decodeBody(t, rec, &act)
	assert.Equal(t, 1, act.Current)

	rec = do(t, handler, http.MethodPost, "/users/alice/combo/hit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hit struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &hit)
	assert.Equal(t, 1, hit.Count)

	// no pool configured
	rec = do(t, handler, http.MethodPost, "/users/alice/challenge/progress", `{"delta":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaderboardAndMetrics(t *testing.T) {
	reg, metrics := newTestRegistry(t)
	handler := NewMux(reg, nil, metrics, Options{PathPrefix: "/api/", MetricsPath: "/metrics"})

	require.Equal(t, http.StatusOK, do(t, handler, http.MethodPost, "/api/users/alice/xp", `{"amount":120}`).Code)
	require.Equal(t, http.StatusOK, do(t, handler, http.MethodPost, "/api/users/bob/xp", `{"amount":300}`).Code)

	rec := do(t, handler, http.MethodGet, "/api/leaderboard?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var top struct {
		Entries []leaderboard.Entry `json:"entries"`
		Total   int                 `json:"total"`
	}
	decodeBody(t, rec, &top)
	require.Len(t, top.Entries, 2)
	assert.Equal(t, core.UserID("bob"), top.Entries[0].UserID)
	assert.Equal(t, int64(300), top.Entries[0].Score)
	assert.Equal(t, 2, top.Total)

	rec = do(t, handler, http.MethodGet, "/api/leaderboard/ALICE", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry leaderboard.Entry
	decodeBody(t, rec, &entry)
	assert.Equal(t, 2, entry.Rank)

	rec = do(t, handler, http.MethodGet, "/api/leaderboard/carol", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report analytics.Report
	decodeBody(t, rec, &report)
	assert.Equal(t, int64(420), report.TotalXPAwarded)
	assert.Equal(t, int64(2), report.TotalLevelUps)
}

func TestHealthAndMethods(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{PathPrefix: "/api"})

	rec := do(t, handler, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodDelete, "/api/users/alice/xp", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	require.NoError(t, reg.Close(context.Background()))
	rec = do(t, handler, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/users/alice", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/alice", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/users/alice", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/api/users/alice", nil)
	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, preflight)
	if rec3.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec3.Code)
	}
	if got := rec3.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS origin *, got %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handler := NewMux(reg, nil, nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/api/users/alice", nil)
	req1.Header.Set("X-API-Key", "k")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/users/alice", nil)
	req2.Header.Set("X-API-Key", "k")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	l := NewRateLimiter(60, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	allowed := func(key string, at time.Time) bool {
		ok, _ := l.Allow(key, at)
		return ok
	}
	assert.True(t, allowed("a", now))
	assert.True(t, allowed("a", now))
	ok, wait := l.Allow("a", now)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)
	assert.True(t, allowed("b", now), "buckets are per key")

	// one token per second at 60 rpm
	assert.True(t, allowed("a", now.Add(time.Second)))
	assert.False(t, allowed("a", now.Add(time.Second)))
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	l := NewRateLimiter(60, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, k := range []string{"a", "b", "c"} {
		ok, _ := l.Allow(k, now)
		require.True(t, ok)
	}
	assert.Equal(t, 3, l.Len())

	// a full refill takes two seconds; idle buckets go on the next sweep
	ok, _ := l.Allow("d", now.Add(3*time.Second))
	require.True(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestSharedLimiterAndRetryAfter(t *testing.T) {
	reg, _ := newTestRegistry(t)
	limiter := NewRateLimiter(1, 1)
	first := NewMux(reg, nil, nil, Options{Limiter: limiter})
	second := NewMux(reg, nil, nil, Options{Limiter: limiter})

	rec := do(t, first, http.MethodGet, "/users/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, second, http.MethodGet, "/users/alice", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestKeyringAccepts(t *testing.T) {
	k := newKeyring([]string{" alpha ", "", "beta"})
	require.Len(t, k, 2)
	assert.True(t, k.accepts("alpha"))
	assert.True(t, k.accepts("beta"))
	assert.False(t, k.accepts("alph"))
	assert.False(t, k.accepts(""))
	assert.Nil(t, newKeyring(nil))
}
