package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"playkit/adapters/websocket"
	"playkit/analytics"
	"playkit/badges"
	"playkit/challenge"
	"playkit/core"
	"playkit/gamify"
	"playkit/quests"
	"playkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// Limiter shares token buckets between handlers. When nil and rate
	// limiting is enabled, NewMux builds one from RateLimitRPM and
	// RateLimitBurst.
	Limiter *RateLimiter
	// MetricsPath serves the analytics report when a Metrics is given.
	MetricsPath string
	// Logger receives one line per request. Nil disables access logs.
	Logger *slog.Logger
}

const maxBodyBytes = 1 << 20

type api struct {
	reg     *gamify.Registry
	metrics *analytics.Metrics
}

// NewMux builds an http.Handler exposing the playground REST API and the
// WebSocket event stream. hub and metrics may be nil.
//
// Routes, relative to PathPrefix:
//   - GET  /healthz
//   - WS   /ws?feature=levels&user=alice
//   - GET  /users/{id}
//   - GET  /users/{id}/level, PUT /users/{id}/level
//   - POST /users/{id}/xp, POST /users/{id}/xp/remove
//   - GET  /users/{id}/points, POST /users/{id}/points/award, POST /users/{id}/points/spend
//   - GET  /users/{id}/badges, POST /users/{id}/badges/{badge}/progress, POST /users/{id}/badges/{badge}/unlock
//   - GET  /users/{id}/quests, POST /users/{id}/quests/{quest}/start,
//     POST /users/{id}/quests/{quest}/objectives/{objective}, POST /users/{id}/quests/{quest}/fail
//   - POST /users/{id}/streak/activity, POST /users/{id}/combo/hit, POST /users/{id}/challenge/progress
//   - GET  /users/{id}/notifications, POST /users/{id}/notifications/{nid}/read,
//     POST /users/{id}/notifications/read-all
//   - GET  /leaderboard, GET /leaderboard/{id}
func NewMux(reg *gamify.Registry, hub *realtime.Hub, metrics *analytics.Metrics, opts Options) http.Handler {
	a := &api{reg: reg, metrics: metrics}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", a.healthCheck)
	if hub != nil {
		var wsOpts []websocket.Option
		if o := opts.AllowCORSOrigin; o != "" && o != "*" {
			wsOpts = append(wsOpts, websocket.WithCheckOrigin(func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == o
			}))
		}
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), websocket.Handler(hub, wsOpts...))
	}
	if metrics != nil && opts.MetricsPath != "" {
		route(http.MethodGet, opts.MetricsPath, a.report)
	}

	route(http.MethodGet, "/users/{id}", a.summary)

	route(http.MethodGet, "/users/{id}/level", a.getLevel)
	route(http.MethodPut, "/users/{id}/level", a.setLevel)
	route(http.MethodPost, "/users/{id}/xp", a.addXP)
	route(http.MethodPost, "/users/{id}/xp/remove", a.removeXP)

	route(http.MethodGet, "/users/{id}/points", a.getPoints)
	route(http.MethodPost, "/users/{id}/points/award", a.awardPoints)
	route(http.MethodPost, "/users/{id}/points/spend", a.spendPoints)

	route(http.MethodGet, "/users/{id}/badges", a.getBadges)
	route(http.MethodPost, "/users/{id}/badges/{badge}/progress", a.badgeProgress)
	route(http.MethodPost, "/users/{id}/badges/{badge}/unlock", a.unlockBadge)

	route(http.MethodGet, "/users/{id}/quests", a.getQuests)
	route(http.MethodPost, "/users/{id}/quests/{quest}/start", a.startQuest)
	route(http.MethodPost, "/users/{id}/quests/{quest}/objectives/{objective}", a.questObjective)
	route(http.MethodPost, "/users/{id}/quests/{quest}/fail", a.failQuest)

	route(http.MethodPost, "/users/{id}/streak/activity", a.streakActivity)
	route(http.MethodPost, "/users/{id}/combo/hit", a.comboHit)
	route(http.MethodPost, "/users/{id}/challenge/progress", a.challengeProgress)

	route(http.MethodGet, "/users/{id}/notifications", a.getNotifications)
	route(http.MethodPost, "/users/{id}/notifications/read-all", a.readAllNotifications)
	route(http.MethodPost, "/users/{id}/notifications/{nid}/read", a.readNotification)

	route(http.MethodGet, "/leaderboard", a.leaderboardTop)
	route(http.MethodGet, "/leaderboard/{id}", a.leaderboardRank)

	return opts.middleware(mux)
}

// healthCheck verifies the service is working properly
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	code := http.StatusOK
	if err := a.reg.Ping(r.Context()); err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	}
	writeJSONStatus(w, code, status)
}

func (a *api) report(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 10)
	if !ok {
		return
	}
	writeJSON(w, a.metrics.Report(limit))
}

// kit resolves the {id} path value to a mounted kit, writing the error
// response itself on failure.
func (a *api) kit(w http.ResponseWriter, r *http.Request) (*gamify.Kit, bool) {
	k, err := a.reg.Kit(r.Context(), core.UserID(r.PathValue("id")))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return k, true
}

type userSummary struct {
	UserID        core.UserID `json:"user_id"`
	Level         any         `json:"level"`
	Points        int64       `json:"points"`
	Badges        any         `json:"badges"`
	ActiveQuests  []string    `json:"active_quests"`
	Streak        int         `json:"streak"`
	Combo         any         `json:"combo"`
	Challenge     any         `json:"challenge,omitempty"`
	UnreadNotices int         `json:"unread_notifications"`
}

func (a *api) summary(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	out := userSummary{
		UserID:        k.User,
		Level:         k.Levels.Service().GetLevelData(),
		Points:        k.Points.Service().Balance(),
		Badges:        k.Badges.Service().Unlocked(),
		ActiveQuests:  k.Quests.Service().Active(),
		Streak:        k.Streaks.Service().Current(),
		Combo:         k.Combo.Service().Snapshot(),
		UnreadNotices: k.Notifications.Service().UnreadCount(),
	}
	if k.Challenge != nil {
		asg, def := k.Challenge.Service().Current()
		out.Challenge = map[string]any{"assignment": asg, "definition": def}
	}
	writeJSON(w, out)
}

type amountRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type levelRequest struct {
	Level int `json:"level"`
}

// progressRequest sets an absolute Value or adds Delta when Value is absent.
type progressRequest struct {
	Value *int64 `json:"value,omitempty"`
	Delta int64  `json:"delta,omitempty"`
}

func (a *api) getLevel(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	writeJSON(w, k.Levels.Service().GetLevelData())
}

func (a *api) setLevel(w http.ResponseWriter, r *http.Request) {
	var req levelRequest
	if !decode(w, r, &req) {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	lv := k.Levels.Service()
	if err := lv.SetLevel(req.Level); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, lv.GetLevelData())
}

func (a *api) addXP(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	tx, err := k.Levels.Service().AddXP(req.Amount, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"transaction": tx, "level": k.Levels.Service().GetLevelData()})
}

func (a *api) removeXP(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	tx, err := k.Levels.Service().RemoveXP(req.Amount, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"transaction": tx, "level": k.Levels.Service().GetLevelData()})
}

func (a *api) getPoints(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	pts := k.Points.Service()
	writeJSON(w, map[string]any{"balance": pts.Balance(), "transactions": pts.Transactions(limit)})
}

func (a *api) awardPoints(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	tx, err := k.Points.Service().Award(req.Amount, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, tx)
}

func (a *api) spendPoints(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	res, err := k.Points.Service().Spend(req.Amount, req.Reason)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res.Value)
}

func (a *api) getBadges(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	b := k.Badges.Service()
	writeJSON(w, map[string]any{
		"definitions": b.Definitions(false),
		"progress":    b.Snapshot().Progress,
	})
}

func (a *api) badgeProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !decode(w, r, &req) {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	b, id := k.Badges.Service(), r.PathValue("badge")
	var (
		res core.Result[badges.Progress]
		err error
	)
	if req.Value != nil {
		res, err = b.UpdateProgress(id, *req.Value)
	} else {
		res, err = b.IncrementProgress(id, req.Delta)
	}
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res.Value)
}

func (a *api) unlockBadge(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	res := k.Badges.Service().Unlock(r.PathValue("badge"))
	if err := res.Err(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res.Value)
}

func (a *api) getQuests(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	st := k.Quests.Service().Snapshot()
	writeJSON(w, map[string]any{
		"quests":          st.Quests,
		"active":          st.ActiveQuests,
		"completed_count": st.CompletedCount,
	})
}

func (a *api) startQuest(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	res := k.Quests.Service().StartQuest(r.PathValue("quest"))
	if err := res.Err(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res.Value)
}

func (a *api) questObjective(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !decode(w, r, &req) {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	q, quest, objective := k.Quests.Service(), r.PathValue("quest"), r.PathValue("objective")
	var (
		res core.Result[quests.Quest]
		err error
	)
	if req.Value != nil {
		res, err = q.UpdateObjective(quest, objective, *req.Value)
	} else {
		res, err = q.IncrementObjective(quest, objective, req.Delta)
	}
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res.Value)
}

func (a *api) failQuest(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	res := k.Quests.Service().FailQuest(r.PathValue("quest"))
	if err := res.Err(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res.Value)
}

func (a *api) streakActivity(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	writeJSON(w, k.Streaks.Service().RecordActivity())
}

func (a *api) comboHit(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	writeJSON(w, k.Combo.Service().Hit())
}

func (a *api) challengeProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !decode(w, r, &req) {
		return
	}
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	if k.Challenge == nil {
		writeError(w, http.StatusNotFound, string(core.FailureNotFound), "no daily challenge configured", nil)
		return
	}
	c := k.Challenge.Service()
	var (
		asg challenge.Assignment
		err error
	)
	if req.Value != nil {
		asg, err = c.UpdateProgress(*req.Value)
	} else {
		asg, err = c.IncrementProgress(req.Delta)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, asg)
}

func (a *api) getNotifications(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	n := k.Notifications.Service()
	if r.URL.Query().Get("unread") == "true" {
		writeJSON(w, n.Unread())
		return
	}
	writeJSON(w, n.List())
}

func (a *api) readNotification(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	res := k.Notifications.Service().MarkRead(r.PathValue("nid"))
	if err := res.Err(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res.Value)
}

func (a *api) readAllNotifications(w http.ResponseWriter, r *http.Request) {
	k, ok := a.kit(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{"marked": k.Notifications.Service().MarkAllRead()})
}

func (a *api) leaderboardTop(w http.ResponseWriter, r *http.Request) {
	board := a.reg.Leaderboard()
	if board == nil {
		writeError(w, http.StatusNotFound, string(core.FailureNotFound), "no leaderboard configured", nil)
		return
	}
	limit, ok := queryInt(w, r, "limit", 10)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{"entries": board.Top(limit), "total": board.Len()})
}

func (a *api) leaderboardRank(w http.ResponseWriter, r *http.Request) {
	board := a.reg.Leaderboard()
	if board == nil {
		writeError(w, http.StatusNotFound, string(core.FailureNotFound), "no leaderboard configured", nil)
		return
	}
	user, err := core.NormalizeUserID(core.UserID(r.PathValue("id")))
	if err != nil {
		writeServiceError(w, core.NewValidationError("user_id", err.Error()))
		return
	}
	radius, ok := queryInt(w, r, "around", 0)
	if !ok {
		return
	}
	if radius > 0 {
		res := board.Around(user, radius)
		if err := res.Err(); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, res.Value)
		return
	}
	res := board.Rank(user)
	if err := res.Err(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res.Value)
}

// Helpers

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	return strings.TrimSuffix(prefix, "/") + path
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_query", name+" must be a non-negative integer", nil)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}

// writeServiceError maps service errors and business failures onto status
// codes. Failure codes pass through as the error code.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), map[string]string{"field": ve.Field})
		return
	}
	var f *core.Failure
	if errors.As(err, &f) {
		status := http.StatusConflict
		switch f.Code {
		case core.FailureNotFound:
			status = http.StatusNotFound
		case core.FailureInsufficientBalance:
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, string(f.Code), f.Message, nil)
		return
	}
	if errors.Is(err, gamify.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
}
