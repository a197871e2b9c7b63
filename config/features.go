package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"playkit/badges"
	"playkit/challenge"
	"playkit/combo"
	"playkit/gamify"
	"playkit/leaderboard"
	"playkit/levels"
	"playkit/notifications"
	"playkit/points"
	"playkit/progression"
	"playkit/quests"
	"playkit/streaks"
)

// ProgressionConfig selects the XP curve. Custom curves need code and are
// not configurable.
type ProgressionConfig struct {
	Formula       progression.Formula `json:"formula" yaml:"formula" env:"PLAYKIT_PROGRESSION_FORMULA"`
	BaseXP        int64               `json:"base_xp" yaml:"base_xp" env:"PLAYKIT_PROGRESSION_BASE_XP"`
	ScalingFactor float64             `json:"scaling_factor,omitempty" yaml:"scaling_factor" env:"PLAYKIT_PROGRESSION_SCALING_FACTOR"`
	MaxLevel      int                 `json:"max_level,omitempty" yaml:"max_level" env:"PLAYKIT_PROGRESSION_MAX_LEVEL"`
}

func DefaultProgression() ProgressionConfig {
	return ProgressionConfig{Formula: progression.Linear, BaseXP: progression.DefaultBaseXP}
}

// Curve returns the configured curve with defaults filled in.
func (p ProgressionConfig) Curve() progression.Curve {
	return progression.Curve{
		Formula:       p.Formula,
		BaseXP:        p.BaseXP,
		ScalingFactor: p.ScalingFactor,
		MaxLevel:      p.MaxLevel,
	}.WithDefaults()
}

// Validate validates progression configuration
func (p *ProgressionConfig) Validate() error {
	if p.Formula == progression.Custom {
		return errors.New("custom formula cannot be configured from a file")
	}
	return p.Curve().Validate()
}

// FeaturesConfig tunes every feature service and carries the content
// definitions (badges, quests, challenge pool).
type FeaturesConfig struct {
	TickInterval  time.Duration       `json:"tick_interval" yaml:"tick_interval" env:"PLAYKIT_TICK_INTERVAL"`
	MaxUsers      int                 `json:"max_users" yaml:"max_users" env:"PLAYKIT_MAX_USERS"`
	UserIdle      time.Duration       `json:"user_idle_timeout" yaml:"user_idle_timeout" env:"PLAYKIT_USER_IDLE_TIMEOUT"`
	Points        PointsConfig        `json:"points" yaml:"points"`
	Badges        BadgesConfig        `json:"badges" yaml:"badges"`
	Quests        QuestsConfig        `json:"quests" yaml:"quests"`
	Streaks       StreaksConfig       `json:"streaks" yaml:"streaks"`
	Combo         ComboConfig         `json:"combo" yaml:"combo"`
	Challenge     ChallengeConfig     `json:"challenge" yaml:"challenge"`
	Leaderboard   LeaderboardConfig   `json:"leaderboard" yaml:"leaderboard"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
}

type PointsConfig struct {
	MinBalance    int64 `json:"min_balance" yaml:"min_balance" env:"PLAYKIT_POINTS_MIN_BALANCE"`
	MaxBalance    int64 `json:"max_balance,omitempty" yaml:"max_balance" env:"PLAYKIT_POINTS_MAX_BALANCE"`
	LevelUpPoints int64 `json:"level_up_points" yaml:"level_up_points" env:"PLAYKIT_POINTS_LEVEL_UP"`
}

type BadgesConfig struct {
	Definitions []badges.Definition `json:"definitions,omitempty" yaml:"definitions"`
}

type QuestsConfig struct {
	MaxActive   int                 `json:"max_active" yaml:"max_active" env:"PLAYKIT_QUESTS_MAX_ACTIVE"`
	Definitions []quests.Definition `json:"definitions,omitempty" yaml:"definitions"`
}

type StreaksConfig struct {
	Period     time.Duration `json:"period" yaml:"period" env:"PLAYKIT_STREAKS_PERIOD"`
	Offset     time.Duration `json:"offset,omitempty" yaml:"offset" env:"PLAYKIT_STREAKS_OFFSET"`
	Milestones []int         `json:"milestones,omitempty" yaml:"milestones" env:"PLAYKIT_STREAKS_MILESTONES"`
}

type ComboConfig struct {
	Window        time.Duration `json:"window" yaml:"window" env:"PLAYKIT_COMBO_WINDOW"`
	HitsPerStep   int           `json:"hits_per_step" yaml:"hits_per_step" env:"PLAYKIT_COMBO_HITS_PER_STEP"`
	Increment     float64       `json:"increment" yaml:"increment" env:"PLAYKIT_COMBO_INCREMENT"`
	MaxMultiplier float64       `json:"max_multiplier" yaml:"max_multiplier" env:"PLAYKIT_COMBO_MAX_MULTIPLIER"`
}

type ChallengeConfig struct {
	Period  time.Duration          `json:"period" yaml:"period" env:"PLAYKIT_CHALLENGE_PERIOD"`
	Offset  time.Duration          `json:"offset,omitempty" yaml:"offset" env:"PLAYKIT_CHALLENGE_OFFSET"`
	PerUser bool                   `json:"per_user" yaml:"per_user" env:"PLAYKIT_CHALLENGE_PER_USER"`
	Pool    []challenge.Definition `json:"pool,omitempty" yaml:"pool"`
}

type LeaderboardConfig struct {
	BoardID    string `json:"board_id" yaml:"board_id" env:"PLAYKIT_LEADERBOARD_ID"`
	MaxEntries int    `json:"max_entries,omitempty" yaml:"max_entries" env:"PLAYKIT_LEADERBOARD_MAX_ENTRIES"`
}

type NotificationsConfig struct {
	Disabled bool          `json:"disabled" yaml:"disabled" env:"PLAYKIT_NOTIFICATIONS_DISABLED"`
	Capacity int           `json:"capacity" yaml:"capacity" env:"PLAYKIT_NOTIFICATIONS_CAPACITY"`
	TTL      time.Duration `json:"ttl,omitempty" yaml:"ttl" env:"PLAYKIT_NOTIFICATIONS_TTL"`
}

func DefaultFeatures() FeaturesConfig {
	return FeaturesConfig{
		TickInterval: time.Second,
		MaxUsers:     10000,
		UserIdle:     30 * time.Minute,
		Points:       PointsConfig{LevelUpPoints: 10},
		Streaks: StreaksConfig{
			Period:     24 * time.Hour,
			Milestones: append([]int(nil), streaks.DefaultMilestones...),
		},
		Combo: ComboConfig{
			Window:        3 * time.Second,
			HitsPerStep:   5,
			Increment:     0.5,
			MaxMultiplier: 5,
		},
		Challenge:     ChallengeConfig{Period: 24 * time.Hour},
		Leaderboard:   LeaderboardConfig{BoardID: "xp"},
		Notifications: NotificationsConfig{Capacity: 50},
	}
}

// Validate validates feature configuration
func (f *FeaturesConfig) Validate() error {
	var errs []string

	if f.TickInterval < 0 {
		errs = append(errs, "tick_interval cannot be negative")
	}
	if f.MaxUsers < 0 || f.UserIdle < 0 {
		errs = append(errs, "max_users and user_idle_timeout cannot be negative")
	}
	if f.Points.MaxBalance != 0 && f.Points.MaxBalance < f.Points.MinBalance {
		errs = append(errs, "points.max_balance must be >= points.min_balance")
	}
	if f.Points.LevelUpPoints < 0 {
		errs = append(errs, "points.level_up_points cannot be negative")
	}
	if f.Quests.MaxActive < 0 {
		errs = append(errs, "quests.max_active cannot be negative")
	}
	if f.Streaks.Period < 0 || f.Challenge.Period < 0 {
		errs = append(errs, "periods cannot be negative")
	}
	if f.Combo.Window < 0 {
		errs = append(errs, "combo.window cannot be negative")
	}
	if f.Combo.MaxMultiplier != 0 && f.Combo.MaxMultiplier < 1 {
		errs = append(errs, "combo.max_multiplier must be >= 1")
	}
	if f.Leaderboard.MaxEntries < 0 {
		errs = append(errs, "leaderboard.max_entries cannot be negative")
	}
	if f.Notifications.Capacity < 0 {
		errs = append(errs, "notifications.capacity cannot be negative")
	}

	// Content definitions are validated by the services themselves; build
	// throwaway instances so bad files fail at startup.
	kit := f.KitConfig(DefaultProgression())
	if _, err := badges.New(kit.Badges, nil); err != nil {
		errs = append(errs, fmt.Sprintf("badges: %v", err))
	}
	if _, err := quests.New(kit.Quests, nil); err != nil {
		errs = append(errs, fmt.Sprintf("quests: %v", err))
	}
	known := make(map[string]bool, len(f.Badges.Definitions))
	for _, b := range f.Badges.Definitions {
		known[b.ID] = true
	}
	for _, q := range f.Quests.Definitions {
		if q.Reward.Badge != "" && !known[q.Reward.Badge] {
			errs = append(errs, fmt.Sprintf("quest %q rewards unknown badge %q", q.ID, q.Reward.Badge))
		}
	}
	if len(kit.Challenge.Pool) > 0 {
		if _, err := challenge.New(kit.Challenge, nil); err != nil {
			errs = append(errs, fmt.Sprintf("challenge: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// KitConfig maps the feature settings onto a gamify.KitConfig template.
func (f FeaturesConfig) KitConfig(p ProgressionConfig) gamify.KitConfig {
	return gamify.KitConfig{
		Levels: levels.Config{
			Formula:       p.Formula,
			BaseXP:        p.BaseXP,
			ScalingFactor: p.ScalingFactor,
			MaxLevel:      p.MaxLevel,
		},
		Points: points.Config{
			MinBalance: f.Points.MinBalance,
			MaxBalance: f.Points.MaxBalance,
		},
		Badges: badges.Config{Badges: f.Badges.Definitions},
		Quests: quests.Config{Quests: f.Quests.Definitions, MaxActiveQuests: f.Quests.MaxActive},
		Streaks: streaks.Config{
			Period:     f.Streaks.Period,
			Offset:     f.Streaks.Offset,
			Milestones: f.Streaks.Milestones,
		},
		Combo: combo.Config{
			Window:        f.Combo.Window,
			HitsPerStep:   f.Combo.HitsPerStep,
			Increment:     f.Combo.Increment,
			MaxMultiplier: f.Combo.MaxMultiplier,
		},
		Challenge: challenge.Config{
			Pool:   f.Challenge.Pool,
			Period: f.Challenge.Period,
			Offset: f.Challenge.Offset,
		},
		Notifications: notifications.Config{
			Capacity: f.Notifications.Capacity,
			TTL:      f.Notifications.TTL,
		},
		LevelUpPoints:        f.Points.LevelUpPoints,
		PerUserChallenge:     f.Challenge.PerUser,
		DisableNotifications: f.Notifications.Disabled,
	}
}

// LeaderboardConfig returns the shared XP board settings. An empty BoardID
// disables the board.
func (f FeaturesConfig) LeaderboardConfig() leaderboard.Config {
	return leaderboard.Config{
		BoardID:    f.Leaderboard.BoardID,
		Policy:     leaderboard.PolicyLatest,
		MaxEntries: f.Leaderboard.MaxEntries,
	}
}

// KitConfig is shorthand for c.Features.KitConfig(c.Progression).
func (c *Config) KitConfig() gamify.KitConfig {
	return c.Features.KitConfig(c.Progression)
}
