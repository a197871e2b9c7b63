package combo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playkit/core"
)

func newService(t *testing.T, cfg Config, state *State) (*Service, *core.ManualClock) {
	t.Helper()
	clock := core.NewManualClock(time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC))
	cfg.UserID = "alice"
	cfg.Clock = clock
	s, err := New(cfg, state)
	require.NoError(t, err)
	return s, clock
}

func TestHit_SteppedMultiplier(t *testing.T) {
	s, clock := newService(t, Config{HitsPerStep: 2, Increment: 1, MaxMultiplier: 3}, nil)
	var events []string
	s.Subscribe(func(name string, _ any) { events = append(events, name) })

	want := []float64{1, 2, 2, 3, 3, 3}
	for i, m := range want {
		h := s.Hit()
		assert.Equal(t, i+1, h.Count)
		assert.Equal(t, m, h.Multiplier, "hit %d", i+1)
		clock.Advance(time.Second)
	}
	assert.Equal(t, int64(30), s.Apply(10))
	assert.Equal(t, 6, s.Snapshot().Best)
	assert.Equal(t, []string{
		"combo_hit", "combo_hit", "combo_multiplier", "combo_hit", "combo_hit", "combo_multiplier", "combo_hit", "combo_hit",
	}, events)
}

func TestCheckTimeout(t *testing.T) {
	var broken []Broken
	s, clock := newService(t, Config{OnBreak: func(b Broken) { broken = append(broken, b) }}, nil)
	assert.False(t, s.CheckTimeout(clock.Now()), "nothing to break")

	s.Hit()
	clock.Advance(2 * time.Second)
	s.Hit()
	assert.Equal(t, 3*time.Second, s.Remaining(clock.Now()))

	clock.Advance(3 * time.Second)
	assert.False(t, s.CheckTimeout(clock.Now()), "window is inclusive")

	clock.Advance(time.Millisecond)
	var events []string
	s.Subscribe(func(name string, _ any) { events = append(events, name) })
	assert.True(t, s.CheckTimeout(clock.Now()))
	assert.False(t, s.CheckTimeout(clock.Now()), "idempotent")
	s.Tick(clock.Now())

	assert.Equal(t, []string{"combo_broken"}, events)
	require.Len(t, broken, 1)
	assert.Equal(t, 2, broken[0].Count)
	assert.Equal(t, int64(2000), broken[0].Duration)

	st := s.Snapshot()
	assert.Zero(t, st.Count)
	assert.Equal(t, 1.0, st.Multiplier)
	assert.Equal(t, 2, st.Best)
	assert.Equal(t, 1, st.TotalCombos)
	assert.Zero(t, s.Remaining(clock.Now()))
}

func TestHit_AfterLapseStartsNewCombo(t *testing.T) {
	var breaks int
	s, clock := newService(t, Config{OnBreak: func(Broken) { breaks++ }}, nil)
	s.Hit()
	s.Hit()
	clock.Advance(10 * time.Second)
	h := s.Hit()
	assert.Equal(t, 1, h.Count)
	assert.Equal(t, 1, breaks)
}

func TestRestoreRecomputesMultiplier(t *testing.T) {
	s, _ := newService(t, Config{}, &State{Count: 12, Multiplier: 9})
	assert.Equal(t, 2.0, s.Snapshot().Multiplier)
	assert.Equal(t, core.UserID("alice"), s.Snapshot().UserID)

	s.Reset()
	assert.Zero(t, s.Snapshot().Count)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Window: -time.Second}, nil)
	assert.True(t, core.IsValidation(err))
	_, err = New(Config{MaxMultiplier: 0.5}, nil)
	assert.True(t, core.IsValidation(err))
}
