package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnector_BacksOffExponentially(t *testing.T) {
	r := newReconnector(FeedConfig{ReconnectBaseDelay: 100 * time.Millisecond, ReconnectMaxDelay: time.Second})

	first := r.nextDelay()
	second := r.nextDelay()
	third := r.nextDelay()

	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.Less(t, first, 150*time.Millisecond)
	assert.GreaterOrEqual(t, second, 200*time.Millisecond)
	assert.GreaterOrEqual(t, third, 400*time.Millisecond)
}

func TestReconnector_CapsAtMaxDelay(t *testing.T) {
	r := newReconnector(FeedConfig{ReconnectBaseDelay: 100 * time.Millisecond, ReconnectMaxDelay: 300 * time.Millisecond})

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = r.nextDelay()
	}
	assert.Equal(t, 300*time.Millisecond, last)
}

func TestReconnector_ResetsAfterStableConnection(t *testing.T) {
	r := newReconnector(FeedConfig{ReconnectBaseDelay: 100 * time.Millisecond, ReconnectMaxDelay: time.Second})
	for i := 0; i < 4; i++ {
		r.nextDelay()
	}

	r.connectedAt = time.Now().Add(-2 * time.Minute)
	delay := r.nextDelay()
	assert.Less(t, delay, 150*time.Millisecond)
}

func TestFeedConfig_Defaults(t *testing.T) {
	cfg := FeedConfig{}.withDefaults()
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10*time.Second, cfg.ResumeOverlap)
}

func TestCursor_StartsAtSubscriptionTime(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c := newCursor(start, 10*time.Second)
	assert.Equal(t, start, c.resumeAt())

	// A video whose upload began before the subscription is inserted after it.
	assert.True(t, c.admit("video", start.Add(20*time.Second)))
	assert.Equal(t, start.Add(10*time.Second), c.resumeAt())
}

func TestCursor_ResumeOverlapDeliversOnce(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c := newCursor(start, 10*time.Second)

	require.True(t, c.admit("m1", start.Add(30*time.Second)))
	require.True(t, c.admit("m2", start.Add(31*time.Second)))

	// After a reconnect the overlap window replays m1 and m2.
	assert.Equal(t, start.Add(21*time.Second), c.resumeAt())
	assert.False(t, c.admit("m1", start.Add(30*time.Second)))
	assert.False(t, c.admit("m2", start.Add(31*time.Second)))
	assert.True(t, c.admit("m3", start.Add(25*time.Second)), "an insert committed late inside the window is not lost")
}

func TestCursor_ForgetsIDsBelowWindow(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c := newCursor(start, 10*time.Second)

	c.admit("old", start.Add(time.Second))
	c.admit("new", start.Add(time.Minute))
	assert.NotContains(t, c.seen, "old")
	assert.Contains(t, c.seen, "new")
}
