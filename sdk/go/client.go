// Package sdk is a Go client for the playkit HTTP and WebSocket API.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"playkit/badges"
	"playkit/challenge"
	"playkit/combo"
	"playkit/leaderboard"
	"playkit/levels"
	"playkit/notifications"
	"playkit/points"
	"playkit/quests"
	"playkit/streaks"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the playkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

type amount struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type progress struct {
	Value *int64 `json:"value,omitempty"`
	Delta int64  `json:"delta,omitempty"`
}

// AddXP awards XP and returns the transaction with the resulting level.
func (c *Client) AddXP(ctx context.Context, userID string, xp int64, reason string) (XPResult, error) {
	var out XPResult
	err := c.userCall(ctx, http.MethodPost, userID, "/xp", amount{xp, reason}, &out)
	return out, err
}

// RemoveXP takes XP away; the server floors the total at zero.
func (c *Client) RemoveXP(ctx context.Context, userID string, xp int64, reason string) (XPResult, error) {
	var out XPResult
	err := c.userCall(ctx, http.MethodPost, userID, "/xp/remove", amount{xp, reason}, &out)
	return out, err
}

// SetLevel jumps the user to level.
func (c *Client) SetLevel(ctx context.Context, userID string, level int) (levels.LevelData, error) {
	var out levels.LevelData
	err := c.userCall(ctx, http.MethodPut, userID, "/level", map[string]int{"level": level}, &out)
	return out, err
}

// GetLevel returns the user's level data.
func (c *Client) GetLevel(ctx context.Context, userID string) (levels.LevelData, error) {
	var out levels.LevelData
	err := c.userCall(ctx, http.MethodGet, userID, "/level", nil, &out)
	return out, err
}

// AwardPoints credits points.
func (c *Client) AwardPoints(ctx context.Context, userID string, pts int64, reason string) (points.Transaction, error) {
	var out points.Transaction
	err := c.userCall(ctx, http.MethodPost, userID, "/points/award", amount{pts, reason}, &out)
	return out, err
}

// SpendPoints debits points. An uncovered spend fails with code
// "insufficient_balance".
func (c *Client) SpendPoints(ctx context.Context, userID string, pts int64, reason string) (points.Transaction, error) {
	var out points.Transaction
	err := c.userCall(ctx, http.MethodPost, userID, "/points/spend", amount{pts, reason}, &out)
	return out, err
}

// Balance returns the user's point balance.
func (c *Client) Balance(ctx context.Context, userID string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	err := c.userCall(ctx, http.MethodGet, userID, "/points?limit=0", nil, &out)
	return out.Balance, err
}

// IncrementBadge adds delta to a badge's progress.
func (c *Client) IncrementBadge(ctx context.Context, userID, badge string, delta int64) (badges.Progress, error) {
	var out badges.Progress
	err := c.userCall(ctx, http.MethodPost, userID, "/badges/"+url.PathEscape(badge)+"/progress", progress{Delta: delta}, &out)
	return out, err
}

// UnlockBadge unlocks a badge regardless of its progress.
func (c *Client) UnlockBadge(ctx context.Context, userID, badge string) (badges.Progress, error) {
	var out badges.Progress
	err := c.userCall(ctx, http.MethodPost, userID, "/badges/"+url.PathEscape(badge)+"/unlock", nil, &out)
	return out, err
}

// StartQuest starts an available quest.
func (c *Client) StartQuest(ctx context.Context, userID, quest string) (quests.Quest, error) {
	var out quests.Quest
	err := c.userCall(ctx, http.MethodPost, userID, "/quests/"+url.PathEscape(quest)+"/start", nil, &out)
	return out, err
}

// IncrementObjective adds delta to a quest objective.
func (c *Client) IncrementObjective(ctx context.Context, userID, quest, objective string, delta int64) (quests.Quest, error) {
	var out quests.Quest
	path := "/quests/" + url.PathEscape(quest) + "/objectives/" + url.PathEscape(objective)
	err := c.userCall(ctx, http.MethodPost, userID, path, progress{Delta: delta}, &out)
	return out, err
}

// RecordActivity extends the user's streak.
func (c *Client) RecordActivity(ctx context.Context, userID string) (streaks.Activity, error) {
	var out streaks.Activity
	err := c.userCall(ctx, http.MethodPost, userID, "/streak/activity", nil, &out)
	return out, err
}

// ComboHit registers a combo hit.
func (c *Client) ComboHit(ctx context.Context, userID string) (combo.Hit, error) {
	var out combo.Hit
	err := c.userCall(ctx, http.MethodPost, userID, "/combo/hit", nil, &out)
	return out, err
}

// ChallengeProgress adds delta to today's challenge.
func (c *Client) ChallengeProgress(ctx context.Context, userID string, delta int64) (challenge.Assignment, error) {
	var out challenge.Assignment
	err := c.userCall(ctx, http.MethodPost, userID, "/challenge/progress", progress{Delta: delta}, &out)
	return out, err
}

// Notifications lists the user's notifications, newest last.
func (c *Client) Notifications(ctx context.Context, userID string, unreadOnly bool) ([]notifications.Notification, error) {
	var out []notifications.Notification
	path := "/notifications"
	if unreadOnly {
		path += "?unread=true"
	}
	err := c.userCall(ctx, http.MethodGet, userID, path, nil, &out)
	return out, err
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, userID, id string) (notifications.Notification, error) {
	var out notifications.Notification
	err := c.userCall(ctx, http.MethodPost, userID, "/notifications/"+url.PathEscape(id)+"/read", nil, &out)
	return out, err
}

// GetUser fetches the user's cross-feature summary.
func (c *Client) GetUser(ctx context.Context, userID string) (UserSummary, error) {
	var out UserSummary
	err := c.userCall(ctx, http.MethodGet, userID, "", nil, &out)
	return out, err
}

// Leaderboard returns the top limit entries of the shared board.
func (c *Client) Leaderboard(ctx context.Context, limit int) (LeaderboardPage, error) {
	var out LeaderboardPage
	err := c.call(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

// Rank returns the user's ranked entry.
func (c *Client) Rank(ctx context.Context, userID string) (leaderboard.Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return leaderboard.Entry{}, ErrEmptyUserID
	}
	var out leaderboard.Entry
	err := c.call(ctx, http.MethodGet, "/leaderboard/"+url.PathEscape(userID), nil, &out)
	return out, err
}

// Health calls /healthz and returns status + storage check. An unhealthy
// server answers 503, reported as an *APIError.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.call(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

func (c *Client) userCall(ctx context.Context, method, userID, path string, body, out any) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return c.call(ctx, method, "/users/"+url.PathEscape(userID)+path, body, out)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

// SubscribeEvents connects to the WebSocket stream and emits events. Empty
// feature or userID leave the stream unfiltered on that field. The returned
// channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, feature, userID string) (<-chan Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if feature != "" {
		q.Set("feature", feature)
	}
	if userID != "" {
		q.Set("user", userID)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
