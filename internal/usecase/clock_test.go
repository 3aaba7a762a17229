package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 999, time.FixedZone("X", 3600))
	c := NewClockFunc(func() time.Time { return fixed })

	first := c.Now()
	require.Equal(t, time.UTC, first.Location())
	require.Equal(t, fixed.Truncate(time.Microsecond).UTC(), first)

	second := c.Now()
	require.Equal(t, first.Add(time.Microsecond), second)
}

func TestClock_WallClockStepsBack(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewClockFunc(func() time.Time { return now })

	a := c.Now()
	now = now.Add(-time.Hour)
	b := c.Now()
	require.True(t, b.After(a))
}

func TestClock_Concurrent(t *testing.T) {
	c := NewClockFunc(func() time.Time { return time.Unix(1700000000, 0) })

	const workers, perWorker = 8, 200
	results := make(chan time.Time, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				results <- c.Now()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[time.Time]bool, workers*perWorker)
	for ts := range results {
		require.False(t, seen[ts], "duplicate timestamp %s", ts)
		seen[ts] = true
	}
	require.Len(t, seen, workers*perWorker)
}
