package keeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

type scriptedBot struct {
	results []error
	steps   int
}

func (b *scriptedBot) Name() string { return "scripted" }

func (b *scriptedBot) Step(ctx context.Context) error {
	err := b.results[b.steps%len(b.results)]
	b.steps++
	return err
}

func TestRunnerWaitsPerOutcome(t *testing.T) {
	bot := &scriptedBot{results: []error{nil, errors.New("rpc down"), nil}}
	r, err := NewRunner(bot, models.MBotConfig{RunIntervalSeconds: 20, ContinueDelaySeconds: 10}, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	var outcomes []error
	r.OnRun(func(bot string, err error) {
		assert.Equal(t, "scripted", bot)
		outcomes = append(outcomes, err)
	})

	err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{20 * time.Second, 10 * time.Second, 20 * time.Second}, waits)
	assert.Len(t, outcomes, 3)
	assert.Error(t, outcomes[1])
	assert.Equal(t, 3, bot.steps)
}

func TestRunnerStopsOnCancelledStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bot := &scriptedBot{results: []error{context.Canceled}}
	r, err := NewRunner(bot, models.MBotConfig{RunIntervalSeconds: 1, ContinueDelaySeconds: 1}, logger.Nop())
	require.NoError(t, err)

	called := false
	r.OnRun(func(string, error) { called = true })

	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.False(t, called)
	assert.Equal(t, 1, bot.steps)
}

func TestRunnerScheduledRetriesUpToMaxAttempts(t *testing.T) {
	boom := errors.New("no treasury coin large enough")
	bot := &scriptedBot{results: []error{boom, boom, boom, nil}}
	r, err := NewRunner(bot, models.MBotConfig{
		RunIntervalSeconds:   86400,
		ContinueDelaySeconds: 60,
		Schedule:             "CRON_TZ=UTC 0 * * * *",
		MaxAttempts:          3,
	}, logger.Nop())
	require.NoError(t, err)

	r.now = func() time.Time { return time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		// stop while waiting for the third activation
		if len(waits) == 5 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, []time.Duration{
		30 * time.Minute, time.Minute, time.Minute,
		30 * time.Minute,
		30 * time.Minute,
	}, waits)
	assert.Equal(t, 4, bot.steps)
}

func TestNewRunnerRejectsBadSchedule(t *testing.T) {
	_, err := NewRunner(&scriptedBot{results: []error{nil}}, models.MBotConfig{Schedule: "every tuesday"}, logger.Nop())
	assert.Error(t, err)
}
