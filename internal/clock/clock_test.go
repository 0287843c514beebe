package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSleepAdvances(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)
	require.NoError(t, f.Sleep(context.Background(), 90*time.Minute))
	require.NoError(t, f.Sleep(context.Background(), 0))

	assert.Equal(t, start.Add(90*time.Minute), f.Now())
	assert.Equal(t, []time.Duration{90 * time.Minute, 0}, f.Sleeps())
	assert.Equal(t, 90*time.Minute, f.Slept())
}

func TestFakeSleepCanceled(t *testing.T) {
	t.Parallel()

	f := NewFake(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	before := f.Now()
	err := f.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, f.Now())
}

func TestRealSleepCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := Real{}.Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
