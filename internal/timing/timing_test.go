package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRemainingCountsDownFromFullDuration(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.Equal(t, 1800, Remaining(start, 30, start))
	require.Equal(t, 1799, Remaining(start, 30, start.Add(time.Second)))
	require.Equal(t, 900, Remaining(start, 30, start.Add(15*time.Minute)))
	require.Equal(t, 1, Remaining(start, 30, start.Add(30*time.Minute-time.Second)))
}

func TestRemainingFloorsAtZero(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.Equal(t, 0, Remaining(start, 30, start.Add(30*time.Minute)))
	require.Equal(t, 0, Remaining(start, 30, start.Add(31*time.Minute)))
	require.Equal(t, 0, Remaining(start, 30, start.Add(24*time.Hour)))
}

func TestRemainingFloorsSubSecond(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// 1799.5s left must report 1799, not round up.
	require.Equal(t, 1799, Remaining(start, 30, start.Add(500*time.Millisecond)))
}

func TestExpiredIsInclusiveAtDeadline(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.False(t, Expired(start, 30, start.Add(30*time.Minute-time.Millisecond)))
	require.True(t, Expired(start, 30, start.Add(30*time.Minute)))
	require.True(t, Expired(start, 30, start.Add(31*time.Minute)))
}

func TestDeadline(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.Equal(t, start.Add(45*time.Minute), Deadline(start, 45))
}
