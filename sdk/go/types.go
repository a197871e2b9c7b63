package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"playkit/badges"
	"playkit/leaderboard"
	"playkit/levels"
)

// UserSummary mirrors GET /users/{id}.
type UserSummary struct {
	UserID        string            `json:"user_id"`
	Level         levels.LevelData  `json:"level"`
	Points        int64             `json:"points"`
	Badges        []badges.Progress `json:"badges"`
	ActiveQuests  []string          `json:"active_quests"`
	Streak        int               `json:"streak"`
	Combo         json.RawMessage   `json:"combo"`
	Challenge     json.RawMessage   `json:"challenge,omitempty"`
	UnreadNotices int               `json:"unread_notifications"`
}

// XPResult is returned by AddXP and RemoveXP.
type XPResult struct {
	Transaction levels.XPTransaction `json:"transaction"`
	Level       levels.LevelData     `json:"level"`
}

// LeaderboardPage is the response of GET /leaderboard.
type LeaderboardPage struct {
	Entries []leaderboard.Entry `json:"entries"`
	Total   int                 `json:"total"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// Event is one envelope from the WebSocket stream. Payload is left raw so
// callers can decode it into the feature's payload type.
type Event struct {
	Feature string          `json:"feature"`
	Type    string          `json:"type"`
	Key     string          `json:"key,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// APIError is a non-2xx response. Code is the server's error code, such as
// "invalid_input" or "insufficient_balance".
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("playkit api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
