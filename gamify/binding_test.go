package gamify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "playkit/adapters/memory"
	"playkit/combo"
	"playkit/core"
	"playkit/levels"
	"playkit/progression"
	"playkit/realtime"
	"playkit/storage"
)

func buildLevels(st *levels.State) (*levels.Service, error) {
	return levels.New(levels.Config{UserID: "alice", Formula: progression.Linear, BaseXP: 100}, st)
}

func TestMountPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	backend := mem.New()
	adapter := storage.New[levels.State](backend)

	b, err := Mount(ctx, adapter, "levels:alice", buildLevels, WithTickInterval(-1))
	require.NoError(t, err)

	_, err = b.Service().AddXP(150, "quest")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok, err := adapter.Get(ctx, "levels:alice")
		return err == nil && ok && st.TotalXP == 150
	}, time.Second, 5*time.Millisecond)

	_, err = b.Service().AddXP(50, "bonus")
	require.NoError(t, err)
	require.NoError(t, b.Close(ctx))
	require.NoError(t, b.Close(ctx))
	assert.ErrorIs(t, b.Flush(ctx), ErrClosed)

	st, ok, err := adapter.Get(ctx, "levels:alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), st.TotalXP)
	assert.Equal(t, 2, st.Level)

	again, err := Mount(ctx, adapter, "levels:alice", buildLevels, WithTickInterval(-1))
	require.NoError(t, err)
	defer again.Close(ctx)
	data := again.Service().GetLevelData()
	assert.Equal(t, int64(200), data.TotalXP)
	assert.Equal(t, 2, data.Level)
}

func TestMountFreshWhenNothingStored(t *testing.T) {
	ctx := context.Background()
	adapter := storage.New[levels.State](mem.New())
	var got *levels.State
	b, err := Mount(ctx, adapter, "levels:bob", func(st *levels.State) (*levels.Service, error) {
		got = st
		return buildLevels(st)
	})
	require.NoError(t, err)
	defer b.Close(ctx)
	assert.Nil(t, got)
	assert.Equal(t, "levels:bob", b.Key())
	assert.Equal(t, 1, b.Service().GetLevelData().Level)
}

func TestMountErrors(t *testing.T) {
	ctx := context.Background()

	closed := mem.New()
	require.NoError(t, closed.Close())
	_, err := Mount(ctx, storage.New[levels.State](closed), "levels:alice", buildLevels)
	assert.ErrorIs(t, err, storage.ErrClosed)

	boom := errors.New("boom")
	_, err = Mount(ctx, storage.New[levels.State](mem.New()), "levels:alice", func(*levels.State) (*levels.Service, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = Mount[levels.State, *levels.Service](ctx, nil, "k", buildLevels)
	assert.Error(t, err)
}

func TestMountForwardsEvents(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub()
	_, ch := hub.Subscribe(8)

	var (
		mu   sync.Mutex
		seen []core.Event
	)
	clock := core.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	b, err := Mount(ctx, storage.New[levels.State](mem.New()), "levels:alice", buildLevels,
		WithFeature(core.FeatureLevels),
		WithUser("alice"),
		WithRealtime(hub),
		WithClock(clock),
		WithHook(func(e core.Event) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, e)
		}),
	)
	require.NoError(t, err)
	defer b.Close(ctx)

	_, err = b.Service().AddXP(120, "boss")
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Equal(t, "xp_gained", seen[0].Type)
	assert.Equal(t, "level_up", seen[1].Type)
	assert.Equal(t, core.FeatureLevels, seen[0].Feature)
	assert.Equal(t, core.UserID("alice"), seen[0].UserID)
	assert.Equal(t, "levels:alice", seen[0].Key)
	assert.True(t, seen[0].Time.Equal(clock.Now()))
	up, ok := seen[1].Payload.(levels.LevelUp)
	mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 2, up.NewLevel)

	select {
	case ev := <-ch:
		assert.Equal(t, "xp_gained", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("realtime hub received nothing")
	}
}

func TestMountTicksTimeBasedServices(t *testing.T) {
	ctx := context.Background()
	clock := core.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	adapter := storage.New[combo.State](mem.New())
	b, err := Mount(ctx, adapter, "combo:alice", func(st *combo.State) (*combo.Service, error) {
		return combo.New(combo.Config{UserID: "alice", Clock: clock}, st)
	}, WithClock(clock), WithTickInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer b.Close(ctx)

	b.Service().Hit()
	b.Service().Hit()
	require.Equal(t, 2, b.Service().Snapshot().Count)

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return b.Service().Snapshot().Count == 0
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		st, ok, err := adapter.Get(ctx, "combo:alice")
		return err == nil && ok && st.Count == 0 && st.Best == 2
	}, time.Second, 5*time.Millisecond)
}
