package gamify

import (
	"context"
	"errors"
	"fmt"

	"playkit/badges"
	"playkit/challenge"
	"playkit/combo"
	"playkit/core"
	"playkit/engine"
	"playkit/levels"
	"playkit/notifications"
	"playkit/points"
	"playkit/quests"
	"playkit/storage"
	"playkit/streaks"
)

// Key returns the storage key of a user's feature snapshot.
func Key(feature core.Feature, user core.UserID) string {
	return string(feature) + ":" + string(user)
}

// KitConfig is the per-feature configuration template of a Kit. UserID and
// Clock fields inside the feature configs are overwritten per user.
type KitConfig struct {
	Levels        levels.Config
	Points        points.Config
	Badges        badges.Config
	Quests        quests.Config
	Streaks       streaks.Config
	Combo         combo.Config
	Challenge     challenge.Config
	Notifications notifications.Config

	// LevelUpPoints awards points per level gained. Zero disables it.
	LevelUpPoints int64
	// PerUserChallenge salts the daily challenge with the user id so every
	// user gets a different pick.
	PerUserChallenge bool
	// DisableNotifications skips the notification bridge.
	DisableNotifications bool

	Clock core.Clock
}

// Kit is the full set of feature bindings for one user, sharing a backend.
//
// Kit wires the features together: level-ups, badge unlocks and quest or
// challenge completions pay their rewards into points, levels and badges,
// and the notification feed is bridged to all of them.
type Kit struct {
	User core.UserID

	Levels  *Binding[levels.State, *levels.Service]
	Points  *Binding[points.State, *points.Service]
	Badges  *Binding[badges.State, *badges.Service]
	Quests  *Binding[quests.State, *quests.Service]
	Streaks *Binding[streaks.State, *streaks.Service]
	Combo   *Binding[combo.State, *combo.Service]
	// Challenge is nil when the kit has no challenge pool.
	Challenge     *Binding[challenge.State, *challenge.Service]
	Notifications *Binding[notifications.State, *notifications.Service]

	closers []func(context.Context) error
	unsubs  []func()
}

// NewKit mounts every feature for user over backend. On failure the
// bindings mounted so far are closed.
func NewKit(ctx context.Context, backend storage.Backend, user core.UserID, cfg KitConfig, opts ...Option) (kit *Kit, err error) {
	if backend == nil {
		return nil, errors.New("gamify: backend is required")
	}
	user, err = core.NormalizeUserID(user)
	if err != nil {
		return nil, core.NewValidationError("user_id", err.Error())
	}
	base := newConfig(opts)
	clock := core.ClockOrSystem(cfg.Clock)
	k := &Kit{User: user}
	defer func() {
		if err != nil {
			_ = k.Close(context.Background())
		}
	}()

	with := func(feature core.Feature) []Option {
		o := append([]Option{}, opts...)
		return append(o, WithFeature(feature), WithUser(user), WithClock(clock))
	}

	if k.Levels, err = mount(ctx, k, backend, core.FeatureLevels, user, func(st *levels.State) (*levels.Service, error) {
		c := cfg.Levels
		c.UserID, c.Clock = user, clock
		return levels.New(c, st)
	}, with(core.FeatureLevels)); err != nil {
		return nil, err
	}
	if k.Points, err = mount(ctx, k, backend, core.FeaturePoints, user, func(st *points.State) (*points.Service, error) {
		c := cfg.Points
		c.UserID, c.Clock = user, clock
		return points.New(c, st)
	}, with(core.FeaturePoints)); err != nil {
		return nil, err
	}
	if k.Badges, err = mount(ctx, k, backend, core.FeatureBadges, user, func(st *badges.State) (*badges.Service, error) {
		c := cfg.Badges
		c.UserID, c.Clock = user, clock
		return badges.New(c, st)
	}, with(core.FeatureBadges)); err != nil {
		return nil, err
	}
	if k.Quests, err = mount(ctx, k, backend, core.FeatureQuests, user, func(st *quests.State) (*quests.Service, error) {
		c := cfg.Quests
		c.UserID, c.Clock = user, clock
		return quests.New(c, st)
	}, with(core.FeatureQuests)); err != nil {
		return nil, err
	}
	if k.Streaks, err = mount(ctx, k, backend, core.FeatureStreaks, user, func(st *streaks.State) (*streaks.Service, error) {
		c := cfg.Streaks
		c.UserID, c.Clock = user, clock
		return streaks.New(c, st)
	}, with(core.FeatureStreaks)); err != nil {
		return nil, err
	}
	if k.Combo, err = mount(ctx, k, backend, core.FeatureCombo, user, func(st *combo.State) (*combo.Service, error) {
		c := cfg.Combo
		c.UserID, c.Clock = user, clock
		return combo.New(c, st)
	}, with(core.FeatureCombo)); err != nil {
		return nil, err
	}
	if len(cfg.Challenge.Pool) > 0 {
		if k.Challenge, err = mount(ctx, k, backend, core.FeatureChallenge, user, func(st *challenge.State) (*challenge.Service, error) {
			c := cfg.Challenge
			c.UserID, c.Clock = user, clock
			if cfg.PerUserChallenge {
				c.Salt = string(user)
			}
			return challenge.New(c, st)
		}, with(core.FeatureChallenge)); err != nil {
			return nil, err
		}
	}
	if k.Notifications, err = mount(ctx, k, backend, core.FeatureNotifications, user, func(st *notifications.State) (*notifications.Service, error) {
		c := cfg.Notifications
		c.UserID, c.Clock = user, clock
		return notifications.New(c, st)
	}, with(core.FeatureNotifications)); err != nil {
		return nil, err
	}

	k.wire(cfg, base)
	return k, nil
}

func mount[S any, T engine.Service[S]](ctx context.Context, k *Kit, backend storage.Backend, feature core.Feature, user core.UserID, build func(*S) (T, error), opts []Option) (*Binding[S, T], error) {
	adapter := storage.New[S](backend, storage.WithLogger(newConfig(opts).logger))
	b, err := Mount(ctx, adapter, Key(feature, user), build, opts...)
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", feature, err)
	}
	k.closers = append(k.closers, b.Close)
	return b, nil
}

func (k *Kit) wire(cfg KitConfig, base config) {
	lv := k.Levels.Service()
	pts := k.Points.Service()
	bdg := k.Badges.Service()

	award := func(amount int64, reason string) {
		if amount <= 0 {
			return
		}
		if _, err := pts.Award(amount, reason); err != nil {
			base.logger.Warn("reward points failed", "user", k.User, "reason", reason, "error", err)
		}
	}
	addXP := func(amount int64, reason string) {
		if amount <= 0 {
			return
		}
		if _, err := lv.AddXP(amount, reason); err != nil {
			base.logger.Warn("reward xp failed", "user", k.User, "reason", reason, "error", err)
		}
	}

	if cfg.LevelUpPoints > 0 {
		k.unsubs = append(k.unsubs, lv.OnLevelUp(func(u levels.LevelUp) {
			award(int64(u.NewLevel-u.PreviousLevel)*cfg.LevelUpPoints, "level_up")
		}))
	}
	k.unsubs = append(k.unsubs, bdg.OnUnlocked(func(u badges.Unlock) {
		award(u.Badge.Points, "badge:"+u.Badge.ID)
	}))
	k.unsubs = append(k.unsubs, k.Quests.Service().OnCompleted(func(t quests.Transition) {
		if t.Reward == nil {
			return
		}
		reason := "quest:" + t.Quest.QuestID
		addXP(t.Reward.XP, reason)
		award(t.Reward.Points, reason)
		if t.Reward.Badge != "" {
			if res := bdg.Unlock(t.Reward.Badge); !res.OK() && !errors.Is(res.Err(), core.ErrAlreadyUnlocked) {
				base.logger.Warn("reward badge failed", "user", k.User, "badge", t.Reward.Badge, "error", res.Err())
			}
		}
	}))
	var daily *challenge.Service
	if k.Challenge != nil {
		daily = k.Challenge.Service()
		k.unsubs = append(k.unsubs, daily.OnCompleted(func(c challenge.Completion) {
			reason := "challenge:" + c.Challenge.ID
			addXP(c.Challenge.Reward.XP, reason)
			award(c.Challenge.Reward.Points, reason)
		}))
	}

	if !cfg.DisableNotifications {
		k.unsubs = append(k.unsubs, notifications.Bridge(k.Notifications.Service(), notifications.Sources{
			Levels:    lv,
			Badges:    bdg,
			Quests:    k.Quests.Service(),
			Streaks:   k.Streaks.Service(),
			Challenge: daily,
		}))
	}
}

// Flush saves every feature snapshot synchronously.
func (k *Kit) Flush(ctx context.Context) error {
	var errs []error
	flush := []func(context.Context) error{
		k.Levels.Flush, k.Points.Flush, k.Badges.Flush, k.Quests.Flush,
		k.Streaks.Flush, k.Combo.Flush, k.Notifications.Flush,
	}
	if k.Challenge != nil {
		flush = append(flush, k.Challenge.Flush)
	}
	for _, f := range flush {
		if err := f(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close removes the cross-feature wiring and closes every binding.
func (k *Kit) Close(ctx context.Context) error {
	for _, u := range k.unsubs {
		u()
	}
	k.unsubs = nil
	var errs []error
	for _, c := range k.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	k.closers = nil
	return errors.Join(errs...)
}
