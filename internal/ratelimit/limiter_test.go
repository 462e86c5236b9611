package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	require.True(t, l.Allow("10.0.0.1", time.Now()))
	require.Nil(t, New(0, 1, 0))
	require.Nil(t, New(1, 0, 0))
}

func TestBurstThenRefill(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Unix(1000, 0)

	require.True(t, l.Allow("a", now))
	require.True(t, l.Allow("a", now))
	require.False(t, l.Allow("a", now))

	// Other keys have their own bucket.
	require.True(t, l.Allow("b", now))

	require.True(t, l.Allow("a", now.Add(time.Second)))
}

func TestBlankKeyIsNotLimited(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("  ", now))
	}
	require.Equal(t, 0, l.Len())
}

func TestIdleKeysAreEvicted(t *testing.T) {
	l := New(100, 100, time.Second)
	start := time.Unix(1000, 0)
	l.Allow("stale", start)

	later := start.Add(time.Minute)
	for i := 0; i < sweepEvery; i++ {
		l.Allow(fmt.Sprintf("fresh-%d", i%4), later)
	}
	require.Equal(t, 4, l.Len())
}
