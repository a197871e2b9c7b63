package analytics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"playkit/badges"
	"playkit/core"
	"playkit/levels"
	"playkit/points"
)

// Hook receives event envelopes for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// HookFunc adapts a plain function to Hook.
type HookFunc func(e core.Event)

func (f HookFunc) OnEvent(e core.Event) { f(e) }

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	if e.UserID == "" {
		return
	}
	day := dayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// Metrics counts events per feature and type along with engagement and
// progression KPIs.
type Metrics struct {
	mu sync.RWMutex

	events map[core.Feature]map[string]int64

	dailyActiveUsers   map[string]map[core.UserID]struct{}
	weeklyActiveUsers  map[string]map[core.UserID]struct{}
	monthlyActiveUsers map[string]map[core.UserID]struct{}

	xpAwardedByDay     map[string]int64
	xpRemoved          int64
	levelUpsByDay      map[string]int64
	levelDistribution  map[int]int64
	pointsAwardedByDay map[string]int64
	pointsSpentByDay   map[string]int64
	badgesUnlocked     map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		events:             make(map[core.Feature]map[string]int64),
		dailyActiveUsers:   make(map[string]map[core.UserID]struct{}),
		weeklyActiveUsers:  make(map[string]map[core.UserID]struct{}),
		monthlyActiveUsers: make(map[string]map[core.UserID]struct{}),
		xpAwardedByDay:     make(map[string]int64),
		levelUpsByDay:      make(map[string]int64),
		levelDistribution:  make(map[int]int64),
		pointsAwardedByDay: make(map[string]int64),
		pointsSpentByDay:   make(map[string]int64),
		badgesUnlocked:     make(map[string]int64),
	}
}

func (m *Metrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := m.events[e.Feature]
	if byType == nil {
		byType = make(map[string]int64)
		m.events[e.Feature] = byType
	}
	byType[e.Type]++

	day := dayKey(e.Time)
	if e.UserID != "" {
		track(m.dailyActiveUsers, day, e.UserID)
		track(m.weeklyActiveUsers, weekKey(e.Time), e.UserID)
		track(m.monthlyActiveUsers, monthKey(e.Time), e.UserID)
	}

	switch p := e.Payload.(type) {
	case levels.XPTransaction:
		if p.Applied > 0 {
			m.xpAwardedByDay[day] = core.AddSaturating(m.xpAwardedByDay[day], p.Applied)
		} else {
			m.xpRemoved = core.AddSaturating(m.xpRemoved, -p.Applied)
		}
	case levels.LevelUp:
		m.levelUpsByDay[day]++
		m.levelDistribution[p.NewLevel]++
	case points.Transaction:
		switch p.Type {
		case points.TxAward:
			m.pointsAwardedByDay[day] = core.AddSaturating(m.pointsAwardedByDay[day], p.Amount)
		case points.TxSpend:
			m.pointsSpentByDay[day] = core.AddSaturating(m.pointsSpentByDay[day], p.Amount)
		}
	case badges.Unlock:
		m.badgesUnlocked[p.Badge.ID]++
	}
}

func track(buckets map[string]map[core.UserID]struct{}, key string, user core.UserID) {
	if buckets[key] == nil {
		buckets[key] = make(map[core.UserID]struct{})
	}
	buckets[key][user] = struct{}{}
}

// EventCount returns how many events of typ the feature emitted. An empty
// typ sums every type.
func (m *Metrics) EventCount(feature core.Feature, typ string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if typ != "" {
		return m.events[feature][typ]
	}
	var total int64
	for _, n := range m.events[feature] {
		total += n
	}
	return total
}

// GetDailyActiveUsers returns the count of daily active users for a specific day
func (m *Metrics) GetDailyActiveUsers(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dailyActiveUsers[day])
}

// GetWeeklyActiveUsers returns the count of weekly active users for a specific week
func (m *Metrics) GetWeeklyActiveUsers(week string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.weeklyActiveUsers[week])
}

// GetMonthlyActiveUsers returns the count of monthly active users for a specific month
func (m *Metrics) GetMonthlyActiveUsers(month string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.monthlyActiveUsers[month])
}

func (m *Metrics) XPAwardedByDay(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xpAwardedByDay[day]
}

func (m *Metrics) LevelUpsByDay(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levelUpsByDay[day]
}

// Report is a point-in-time summary of the collected metrics.
type Report struct {
	Events            map[string]int64 `json:"events"`
	TotalXPAwarded    int64            `json:"total_xp_awarded"`
	TotalXPRemoved    int64            `json:"total_xp_removed"`
	TotalLevelUps     int64            `json:"total_level_ups"`
	LevelDistribution map[int]int64    `json:"level_distribution"`
	PointsAwarded     int64            `json:"points_awarded"`
	PointsSpent       int64            `json:"points_spent"`
	TopBadges         []BadgeCount     `json:"top_badges"`
}

// BadgeCount is the number of unlocks of one badge.
type BadgeCount struct {
	BadgeID string `json:"badge_id"`
	Unlocks int64  `json:"unlocks"`
}

// Report aggregates everything collected so far. limit caps TopBadges; zero
// means no cap.
func (m *Metrics) Report(limit int) Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := Report{
		Events:            make(map[string]int64),
		TotalXPAwarded:    sumValues(m.xpAwardedByDay),
		TotalXPRemoved:    m.xpRemoved,
		TotalLevelUps:     sumValues(m.levelUpsByDay),
		LevelDistribution: make(map[int]int64, len(m.levelDistribution)),
		PointsAwarded:     sumValues(m.pointsAwardedByDay),
		PointsSpent:       sumValues(m.pointsSpentByDay),
	}
	for feature, byType := range m.events {
		for typ, n := range byType {
			r.Events[string(feature)+"."+typ] = n
		}
	}
	for level, n := range m.levelDistribution {
		r.LevelDistribution[level] = n
	}
	for id, n := range m.badgesUnlocked {
		r.TopBadges = append(r.TopBadges, BadgeCount{BadgeID: id, Unlocks: n})
	}
	sort.Slice(r.TopBadges, func(i, j int) bool {
		if r.TopBadges[i].Unlocks != r.TopBadges[j].Unlocks {
			return r.TopBadges[i].Unlocks > r.TopBadges[j].Unlocks
		}
		return r.TopBadges[i].BadgeID < r.TopBadges[j].BadgeID
	})
	if limit > 0 && len(r.TopBadges) > limit {
		r.TopBadges = r.TopBadges[:limit]
	}
	return r
}

// Helper functions
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func sumValues(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total = core.AddSaturating(total, v)
	}
	return total
}
