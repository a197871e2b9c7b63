package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the gamification domain.
type UserID string

// Feature names a gamification feature module. It is the first segment of
// every storage key and the namespace of every emitted event.
type Feature string

const (
	FeatureLevels        Feature = "levels"
	FeaturePoints        Feature = "points"
	FeatureBadges        Feature = "badges"
	FeatureQuests        Feature = "quests"
	FeatureStreaks       Feature = "streaks"
	FeatureCombo         Feature = "combo"
	FeatureChallenge     Feature = "daily-challenge"
	FeatureLeaderboard   Feature = "leaderboard"
	FeatureNotifications Feature = "notifications"
)

// Entity is the base shape shared by persisted records.
type Entity struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Millis converts t to integer milliseconds since the Unix epoch.
func Millis(t time.Time) int64 { return t.UTC().UnixMilli() }

// FromMillis converts milliseconds since the Unix epoch to a UTC time.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// AddSaturating adds delta to base, pinning the result to the int64 range.
func AddSaturating(base int64, delta int64) int64 {
	v, err := AddSafe(base, delta)
	if err == nil {
		return v
	}
	if delta > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateSlug ensures a non-empty identifier made of alnum, dash and underscore.
// Badge, quest, objective and challenge ids all go through it.
func ValidateSlug(field, s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return NewValidationError(field, "cannot be empty")
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return NewValidationError(field, "may only contain letters, digits, '-' and '_'")
	}
	return nil
}
