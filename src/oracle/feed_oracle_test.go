package oracle

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper-oracle/src/helpers"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *fakeClock) Ms() int64 { return c.now.UnixMilli() }

func newTestOracle(t *testing.T, pairs []string, window, startup, minNotional float64) (*FeedOracle, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	o, err := NewFeedOracle("test", pairs, window, startup, minNotional,
		WithClock(clock.Now), WithLogger(logger.Nop()))
	require.NoError(t, err)
	return o, clock
}

func ptr(v float64) *float64 { return &v }

// -----------------------------------------------------------------------------

func TestNewFeedOracleValidation(t *testing.T) {
	_, err := NewFeedOracle("x", nil, 5, 0, 0)
	assert.Error(t, err)

	_, err = NewFeedOracle("x", []string{"XCHUSD"}, 5, 0, 0)
	assert.ErrorIs(t, err, ErrMalformedPair)

	_, err = NewFeedOracle("x", []string{"XCH-USD"}, 0, 0, 0)
	var verr *helpers.ValidationError
	assert.ErrorAs(t, err, &verr)

	o, err := NewFeedOracle("x", []string{"XCH_USDT", "XCH-USD"}, 5, 0, 10, WithLogger(logger.Nop()))
	require.NoError(t, err)
	assert.Equal(t, "XCH", o.BaseCurrency())
	assert.Equal(t, []string{"XCH_USDT", "XCH-USD"}, o.Pairs())
}

func TestAddTradeMalformedPair(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 5, 0, 0)
	err := o.AddTrade("XCHUSD", clock.Ms(), 10, 1)
	assert.ErrorIs(t, err, ErrMalformedPair)
}

// -----------------------------------------------------------------------------

func TestStartupGating(t *testing.T) {
	for _, startup := range []float64{0, 1, 900} {
		o, clock := newTestOracle(t, []string{"XCH-USD"}, 5, startup, 0)

		// unset start time counts as startup
		require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 30, 1))
		price, meta := o.Compute(nil)
		assert.True(t, math.IsNaN(price))
		assert.True(t, meta.Startup)

		require.True(t, o.MarkStarted())
		if startup > 0 {
			require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 30, 1))
			price, meta = o.Compute(nil)
			assert.True(t, math.IsNaN(price), "startup=%v", startup)
			assert.True(t, meta.Startup)

			clock.Advance(time.Duration(startup*float64(time.Second)) - time.Millisecond)
			require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 30, 1))
			price, _ = o.Compute(nil)
			assert.True(t, math.IsNaN(price), "startup=%v just before threshold", startup)

			clock.Advance(time.Millisecond)
		}

		require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 30, 1))
		price, meta = o.Compute(nil)
		assert.Equal(t, 30.0, price, "startup=%v", startup)
		assert.False(t, meta.Startup)
		assert.False(t, meta.Degraded)
	}
}

func TestMarkStartedIsIdempotent(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 5, 60, 0)
	require.True(t, o.MarkStarted())
	first, ok := o.StartTime()
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	assert.False(t, o.MarkStarted())
	again, _ := o.StartTime()
	assert.Equal(t, first, again)
}

// -----------------------------------------------------------------------------

func TestNotionalFiltering(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 5, 0, 10)
	o.MarkStarted()

	var drops []string
	o.onDrop = func(reason string) { drops = append(drops, reason) }

	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 1, 5))
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 9.99, 1))
	_, meta := o.Compute(nil)
	assert.Equal(t, 0, meta.Trades)
	assert.Equal(t, []string{DropNotional, DropNotional}, drops)

	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 10, 1))
	_, meta = o.Compute(nil)
	assert.Equal(t, 1, meta.Trades)
}

func TestInvalidTradesDropped(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 5, 0, 0)
	for _, tr := range [][2]float64{{0, 1}, {-1, 1}, {1, 0}, {math.NaN(), 1}, {math.Inf(1), 1}, {1, math.NaN()}} {
		require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), tr[0], tr[1]))
	}
	assert.Equal(t, 0, o.TradeCount())
}

func TestUsdtConversionGating(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USDT"}, 5, 0, 0)
	o.MarkStarted()

	require.NoError(t, o.AddTrade("XCH-USDT", clock.Ms(), 10, 2))
	assert.Equal(t, 0, o.TradeCount())

	o.SetUsdtUsdRate(-1)
	assert.True(t, math.IsNaN(o.UsdtUsdRate()))

	o.SetUsdtUsdRate(0.999)
	require.NoError(t, o.AddTrade("XCH-USDT", clock.Ms(), 10, 2))
	price, meta := o.Compute(nil)
	assert.Equal(t, 1, meta.Trades)
	assert.InDelta(t, 9.99, price, 1e-12)
}

func TestUsdPairNeedsNoRate(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 5, 0, 0)
	o.MarkStarted()
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 10, 2))
	price, _ := o.Compute(nil)
	assert.Equal(t, 10.0, price)
}

// -----------------------------------------------------------------------------

func TestOutlierTrimming(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 60, 0, 0)
	o.MarkStarted()

	normal := []float64{99.5, 100, 100.5, 101}
	for _, p := range normal {
		require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), p, 1))
	}
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 1000, 0.1))

	clean := (99.5 + 100 + 100.5 + 101) / 4
	naive := (99.5 + 100 + 100.5 + 101 + 100) / 4.1

	price, meta := o.Compute(nil)
	assert.Equal(t, 5, meta.Trades)
	assert.Greater(t, price, clean)
	assert.Less(t, price, naive)
	assert.Less(t, price-clean, naive-price)
	assert.InDelta(t, 100.5, price, 1e-9)
}

func TestOutlierTrimmingWithTiedPrices(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 60, 0, 0)
	o.MarkStarted()

	for i := 0; i < 4; i++ {
		require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 100, 1))
	}
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 1000, 0.1))

	naive := (4*100.0 + 1000*0.1) / 4.1
	price, _ := o.Compute(nil)
	assert.InDelta(t, 100.0, price, 1e-9)
	assert.Less(t, price, naive)
}

func TestNoTrimWithFewTrades(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 60, 0, 0)
	o.MarkStarted()
	for _, p := range []float64{100, 100, 100} {
		require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), p, 1))
	}
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 1000, 1))
	price, _ := o.Compute(nil)
	assert.InDelta(t, 325.0, price, 1e-9)
}

// -----------------------------------------------------------------------------

func TestDegradedFallback(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 5, 0, 0)
	o.MarkStarted()

	price, meta := o.Compute(nil)
	assert.True(t, math.IsNaN(price))
	assert.True(t, meta.Degraded)

	price, meta = o.Compute(ptr(25))
	assert.Equal(t, 25.0, price)
	assert.True(t, meta.Degraded)

	// last published price is reused without a fallback
	price, meta = o.Compute(nil)
	assert.Equal(t, 25.0, price)
	assert.True(t, meta.Degraded)

	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 30, 1))
	price, meta = o.Compute(ptr(25))
	assert.Equal(t, 30.0, price)
	assert.False(t, meta.Degraded)
}

func TestStaleFlagDoesNotSuppressPrice(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 60, 0, 0)
	o.MarkStarted()
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 30, 1))

	_, meta := o.Compute(nil)
	assert.False(t, meta.Stale)

	clock.Advance(5001 * time.Millisecond)
	price, meta := o.Compute(nil)
	assert.True(t, meta.Stale)
	assert.Equal(t, 30.0, price)
}

func TestComputeEvictsExpiredTrades(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 5, 0, 0)
	o.MarkStarted()
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 30, 1))

	clock.Advance(6 * time.Second)
	price, meta := o.Compute(ptr(31))
	assert.Equal(t, 0, meta.Trades)
	assert.Equal(t, 31.0, price)
	assert.True(t, meta.Degraded)
}

func TestComputeIdempotent(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 60, 0, 0)
	o.MarkStarted()
	for i, p := range []float64{99, 100, 101, 102, 150} {
		require.NoError(t, o.AddTrade("XCH-USD", clock.Ms()+int64(i), p, 1))
	}

	p1, m1 := o.Compute(nil)
	p2, m2 := o.Compute(nil)
	assert.Equal(t, p1, p2)
	assert.Equal(t, m1, m2)

	clock.Advance(10 * time.Millisecond)
	p3, m3 := o.Compute(nil)
	assert.Equal(t, p1, p3)
	m3.Ts = m1.Ts
	assert.Equal(t, m1, m3)
}

// -----------------------------------------------------------------------------

func TestUpdateParameters(t *testing.T) {
	o, clock := newTestOracle(t, []string{"XCH-USD"}, 60, 0, 0)
	o.MarkStarted()
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 10, 1))
	clock.Advance(20 * time.Second)
	require.NoError(t, o.AddTrade("XCH-USD", clock.Ms(), 20, 1))
	assert.Equal(t, 2, o.TradeCount())

	require.NoError(t, o.UpdateParameters(models.MFeedParameters{WindowSec: ptr(10)}))
	assert.Equal(t, 1, o.TradeCount())
	price, _ := o.Compute(nil)
	assert.Equal(t, 20.0, price)

	require.NoError(t, o.UpdateParameters(models.MFeedParameters{StartupWindowSec: ptr(0), MinNotional: ptr(5)}))
	window, startup, minNotional := o.Parameters()
	assert.Equal(t, 10.0, window)
	assert.Equal(t, 0.0, startup)
	assert.Equal(t, 5.0, minNotional)
}

func TestUpdateParametersRejectsWithoutMutation(t *testing.T) {
	o, _ := newTestOracle(t, []string{"XCH-USD"}, 60, 900, 10)

	cases := []models.MFeedParameters{
		{WindowSec: ptr(0), MinNotional: ptr(1)},
		{WindowSec: ptr(-5)},
		{MinNotional: ptr(5), StartupWindowSec: ptr(-1)},
		{MinNotional: ptr(-1), WindowSec: ptr(30)},
		{WindowSec: ptr(math.NaN())},
	}
	for _, c := range cases {
		err := o.UpdateParameters(c)
		var verr *helpers.ValidationError
		assert.ErrorAs(t, err, &verr)

		window, startup, minNotional := o.Parameters()
		assert.Equal(t, 60.0, window)
		assert.Equal(t, 900.0, startup)
		assert.Equal(t, 10.0, minNotional)
	}
}
