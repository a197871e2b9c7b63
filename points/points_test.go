package points

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playkit/core"
)

func newService(t *testing.T, cfg Config, state *State) *Service {
	t.Helper()
	cfg.UserID = "alice"
	cfg.Clock = core.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg.IDs = core.SequentialIDs("pt")
	s, err := New(cfg, state)
	require.NoError(t, err)
	return s
}

func TestAward(t *testing.T) {
	var awarded []Transaction
	s := newService(t, Config{OnAward: func(tx Transaction) { awarded = append(awarded, tx) }}, nil)
	var events []string
	s.Subscribe(func(name string, _ any) { events = append(events, name) })

	tx, err := s.Award(50, "login")
	require.NoError(t, err)
	assert.Equal(t, "pt-1", tx.ID)
	assert.Equal(t, TxAward, tx.Type)
	assert.Equal(t, int64(50), tx.Amount)
	assert.Equal(t, int64(50), tx.Balance)
	assert.Equal(t, int64(50), s.Balance())
	assert.Len(t, awarded, 1)
	assert.Equal(t, []string{"points_awarded"}, events)

	_, err = s.Award(0, "")
	assert.True(t, core.IsValidation(err))
	_, err = s.Award(-1, "")
	assert.True(t, core.IsValidation(err))
	assert.Equal(t, int64(50), s.Balance())
}

func TestAward_ClampsAtMaxButLifetimeKeepsGrowing(t *testing.T) {
	s := newService(t, Config{MaxBalance: 100}, nil)
	_, err := s.Award(80, "")
	require.NoError(t, err)
	tx, err := s.Award(80, "")
	require.NoError(t, err)

	assert.Equal(t, int64(20), tx.Amount)
	assert.Equal(t, int64(100), s.Balance())
	assert.Equal(t, int64(160), s.Snapshot().LifetimeEarned)
}

func TestSpend(t *testing.T) {
	var spent []Transaction
	s := newService(t, Config{OnSpend: func(tx Transaction) { spent = append(spent, tx) }}, nil)
	_, err := s.Award(30, "")
	require.NoError(t, err)

	res, err := s.Spend(20, "hat")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, int64(-20), res.Value.Amount)
	assert.Equal(t, int64(10), res.Value.Balance)
	assert.Len(t, spent, 1)

	before := s.Snapshot()
	res, err = s.Spend(11, "")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, core.FailureInsufficientBalance, res.Failure.Code)
	assert.True(t, errors.Is(res.Err(), core.ErrInsufficientBalance))
	assert.Equal(t, before, s.Snapshot())
	assert.Len(t, spent, 1)

	_, err = s.Spend(0, "")
	assert.True(t, core.IsValidation(err))
}

func TestSpend_MinBalanceAllowsDebt(t *testing.T) {
	s := newService(t, Config{MinBalance: -50}, nil)
	assert.True(t, s.CanAfford(50))
	assert.False(t, s.CanAfford(51))
	res, err := s.Spend(50, "")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, int64(-50), s.Balance())
	assert.Equal(t, int64(50), s.Snapshot().LifetimeSpent)
}

func TestTransactions(t *testing.T) {
	s := newService(t, Config{}, nil)
	for i := int64(1); i <= 5; i++ {
		_, err := s.Award(i, "")
		require.NoError(t, err)
	}
	assert.Len(t, s.Transactions(0), 5)
	last := s.Transactions(2)
	require.Len(t, last, 2)
	assert.Equal(t, int64(4), last[0].Amount)
	assert.Equal(t, int64(5), last[1].Amount)
}

func TestReset(t *testing.T) {
	s := newService(t, Config{}, nil)
	_, err := s.Award(10, "")
	require.NoError(t, err)
	var events []string
	s.Subscribe(func(name string, _ any) { events = append(events, name) })

	s.Reset()
	st := s.Snapshot()
	assert.Zero(t, st.Balance)
	assert.Zero(t, st.LifetimeEarned)
	assert.Empty(t, st.Transactions)
	assert.Equal(t, []string{"reset"}, events)
}

func TestRestore(t *testing.T) {
	s := newService(t, Config{}, nil)
	_, err := s.Award(10, "")
	require.NoError(t, err)

	s2 := newService(t, Config{}, ptr(s.Snapshot()))
	assert.Equal(t, s.Snapshot(), s2.Snapshot())

	s3 := newService(t, Config{MaxBalance: 5}, ptr(s.Snapshot()))
	assert.Equal(t, int64(5), s3.Balance())
}

func TestNew_RejectsInvertedBounds(t *testing.T) {
	_, err := New(Config{MinBalance: 10, MaxBalance: 5}, nil)
	assert.True(t, core.IsValidation(err))
}

func ptr[T any](v T) *T { return &v }
