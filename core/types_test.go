package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestAddSaturating(t *testing.T) {
	assert.Equal(t, int64(7), AddSaturating(3, 4))
	assert.Equal(t, int64(math.MaxInt64), AddSaturating(math.MaxInt64-1, 10))
	assert.Equal(t, int64(math.MinInt64), AddSaturating(math.MinInt64+1, -10))
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestValidateSlug(t *testing.T) {
	require.NoError(t, ValidateSlug("badge", "onboarded_1"))

	err := ValidateSlug("badge", "bad badge")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	var ve *ValidationError
	require.True(t, errors.As(ValidateSlug("quest", " "), &ve))
	assert.Equal(t, "quest", ve.Field)
}

func TestMillisRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.True(t, FromMillis(Millis(ts)).Equal(ts))
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		id := NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.NotEmpty(t, fallbackID())
}

func TestSequentialIDs(t *testing.T) {
	gen := SequentialIDs("tx")
	assert.Equal(t, "tx-1", gen())
	assert.Equal(t, "tx-2", gen())
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())
	assert.IsType(t, SystemClock{}, ClockOrSystem(nil))
}
