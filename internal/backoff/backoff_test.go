package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForAttemptGrowsToCap(t *testing.T) {
	b := New(10*time.Millisecond, 80*time.Millisecond, 0)

	assert.Equal(t, 10*time.Millisecond, b.ForAttempt(0))
	assert.Equal(t, 20*time.Millisecond, b.ForAttempt(1))
	assert.Equal(t, 40*time.Millisecond, b.ForAttempt(2))
	assert.Equal(t, 80*time.Millisecond, b.ForAttempt(3))
	assert.Equal(t, 80*time.Millisecond, b.ForAttempt(10), "capped at MaxDelay")
	assert.Equal(t, 80*time.Millisecond, b.ForAttempt(60), "overflow clamps to MaxDelay")
}

func TestDefaults(t *testing.T) {
	b := New(0, 0, -1)
	assert.Equal(t, 50*time.Millisecond, b.BaseDelay)
	assert.Equal(t, time.Second, b.MaxDelay)
	assert.Zero(t, b.Jitter)
}

func TestJitterStaysBounded(t *testing.T) {
	b := New(100*time.Millisecond, time.Second, 0.5)

	for i := 0; i < 100; i++ {
		d := b.ForAttempt(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	b := New(time.Minute, time.Minute, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Wait(ctx, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitCompletes(t *testing.T) {
	b := New(time.Millisecond, time.Millisecond, 0)
	require.NoError(t, b.Wait(context.Background(), 0))
}
