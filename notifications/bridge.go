package notifications

import (
	"fmt"

	"playkit/badges"
	"playkit/challenge"
	"playkit/core"
	"playkit/levels"
	"playkit/quests"
	"playkit/streaks"
)

// Sources are the services a Bridge turns into notifications. Nil fields
// are skipped.
type Sources struct {
	Levels    *levels.Service
	Badges    *badges.Service
	Quests    *quests.Service
	Streaks   *streaks.Service
	Challenge *challenge.Service
}

// Bridge subscribes n to the key transitions of src and returns a func that
// removes every subscription.
func Bridge(n *Service, src Sources) func() {
	var unsubs []func()
	notify := func(in Input) {
		// inputs are built here and always carry a title
		_, _ = n.Notify(in)
	}

	if src.Levels != nil {
		unsubs = append(unsubs, src.Levels.OnLevelUp(func(u levels.LevelUp) {
			notify(Input{
				Kind:    KindAchievement,
				Feature: core.FeatureLevels,
				Title:   fmt.Sprintf("Level %d reached", u.NewLevel),
				Message: fmt.Sprintf("You advanced from level %d to %d.", u.PreviousLevel, u.NewLevel),
				Data:    map[string]any{"level": u.NewLevel, "total_xp": u.TotalXP},
			})
		}))
	}
	if src.Badges != nil {
		unsubs = append(unsubs, src.Badges.OnUnlocked(func(u badges.Unlock) {
			notify(Input{
				Kind:    KindAchievement,
				Feature: core.FeatureBadges,
				Title:   "Badge unlocked: " + u.Badge.Name,
				Message: u.Badge.Description,
				Data:    map[string]any{"badge_id": u.Badge.ID, "rarity": string(u.Badge.Rarity)},
			})
		}))
	}
	if src.Quests != nil {
		unsubs = append(unsubs, src.Quests.OnCompleted(func(t quests.Transition) {
			name := t.Quest.QuestID
			if d, ok := src.Quests.Definition(t.Quest.QuestID); ok && d.Name != "" {
				name = d.Name
			}
			notify(Input{
				Kind:    KindSuccess,
				Feature: core.FeatureQuests,
				Title:   "Quest complete: " + name,
				Data:    map[string]any{"quest_id": t.Quest.QuestID},
			})
		}))
	}
	if src.Streaks != nil {
		unsubs = append(unsubs,
			src.Streaks.OnMilestone(func(m streaks.Milestone) {
				notify(Input{
					Kind:    KindAchievement,
					Feature: core.FeatureStreaks,
					Title:   fmt.Sprintf("%d period streak!", m.Length),
					Data:    map[string]any{"length": m.Length},
				})
			}),
			src.Streaks.OnBroken(func(b streaks.Break) {
				notify(Input{
					Kind:    KindWarning,
					Feature: core.FeatureStreaks,
					Title:   "Streak lost",
					Message: fmt.Sprintf("Your %d period streak ended.", b.Record.Length),
				})
			}),
		)
	}
	if src.Challenge != nil {
		unsubs = append(unsubs, src.Challenge.OnCompleted(func(c challenge.Completion) {
			notify(Input{
				Kind:    KindSuccess,
				Feature: core.FeatureChallenge,
				Title:   "Daily challenge complete: " + c.Challenge.Name,
				Data:    map[string]any{"challenge_id": c.Challenge.ID, "streak": c.Streak},
			})
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
