package helpers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffSequence(t *testing.T) {
	b := NewExponentialBackoff(5*time.Second, 60*time.Second, 1.5, time.Second)
	b.Rand = func() float64 { return 0 }

	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 7500*time.Millisecond, b.Next())
	assert.Equal(t, 11250*time.Millisecond, b.Next())

	for i := 0; i < 20; i++ {
		b.Next()
	}
	assert.Equal(t, 60*time.Second, b.Current())

	b.Reset()
	assert.Equal(t, 5*time.Second, b.Current())
}

func TestExponentialBackoffJitterBounded(t *testing.T) {
	b := NewExponentialBackoff(5*time.Second, 60*time.Second, 1.5, time.Second)
	b.Rand = func() float64 { return 0.999 }

	b.Next()
	got := b.Current()
	assert.GreaterOrEqual(t, got, 7500*time.Millisecond)
	assert.Less(t, got, 8500*time.Millisecond)
}

func TestJitterDelayRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := JitterDelay(2*time.Second, 3*time.Second)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 5*time.Second)
	}
	assert.Equal(t, time.Second, JitterDelay(time.Second, 0))
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	got, err := RetryWithBackoff(context.Background(), "op", 3, time.Millisecond, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)

	_, err = RetryWithBackoff(context.Background(), "op", 2, time.Millisecond, func() (int, error) {
		return 0, errors.New("permanent")
	})
	assert.ErrorContains(t, err, "permanent")
}
