package aggregator

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

type fakeSource struct {
	price  float64
	trades int
	err    error
}

func (f *fakeSource) GetPrice(ctx context.Context) (float64, models.MFeedMetadata, error) {
	return f.price, models.MFeedMetadata{Trades: f.trades}, f.err
}

func newAggregator(t *testing.T, feeds map[string]*fakeSource, cfg models.MAggregatorConfig) *PriceAggregator {
	t.Helper()
	sources := make(map[string]interfaces.IPriceSource, len(feeds))
	for name, f := range feeds {
		sources[name] = f
	}
	a, err := NewPriceAggregator(sources, cfg, logger.Nop())
	require.NoError(t, err)
	return a
}

func snapshotFor(t *testing.T, cycle models.MAggregationCycle, feed string) models.MFeedSnapshot {
	t.Helper()
	for _, s := range cycle.Feeds {
		if s.Feed == feed {
			return s
		}
	}
	t.Fatalf("feed %s not in cycle", feed)
	return models.MFeedSnapshot{}
}

// -----------------------------------------------------------------------------

func TestNewPriceAggregatorValidation(t *testing.T) {
	one := map[string]interfaces.IPriceSource{"A": &fakeSource{}}

	_, err := NewPriceAggregator(one, models.MAggregatorConfig{}, logger.Nop())
	assert.ErrorIs(t, err, ErrTooFewFeeds)

	_, err = NewPriceAggregator(one, models.MAggregatorConfig{MinValidFeeds: 1, Method: "mode"}, logger.Nop())
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = NewPriceAggregator(one, models.MAggregatorConfig{MinValidFeeds: 1, MaxSingleFeedWeight: 1.5}, logger.Nop())
	assert.ErrorIs(t, err, ErrInvalidSetting)

	_, err = NewPriceAggregator(one, models.MAggregatorConfig{MinValidFeeds: 1, VolumeSpikeThreshold: 0.5}, logger.Nop())
	assert.ErrorIs(t, err, ErrInvalidSetting)

	a, err := NewPriceAggregator(one, models.MAggregatorConfig{MinValidFeeds: 1}, logger.Nop())
	require.NoError(t, err)
	cfg := a.Config()
	assert.Equal(t, MethodVolumeWeighted, cfg.Method)
	assert.Equal(t, 0.6, cfg.MaxSingleFeedWeight)
	assert.Equal(t, 3.0, cfg.VolumeSpikeThreshold)
	assert.Equal(t, 20, cfg.VolumeHistoryLength)
	assert.Equal(t, 0.05, cfg.PriceDeviationThreshold)
}

func TestFeedNamesSorted(t *testing.T) {
	a := newAggregator(t, map[string]*fakeSource{"OKX": {}, "Gate.io": {}, "KuCoin": {}}, models.MAggregatorConfig{})
	assert.Equal(t, []string{"Gate.io", "KuCoin", "OKX"}, a.FeedNames())
	assert.Equal(t, 3, a.FeedCount())
}

// -----------------------------------------------------------------------------

func TestMinimumValidFeeds(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 10},
		"B": {price: math.NaN(), trades: 10},
		"C": {err: errors.New("boom")},
	}
	a := newAggregator(t, feeds, models.MAggregatorConfig{MinValidFeeds: 2})

	price, err := a.GetAggregatedPrice(context.Background())
	require.NoError(t, err)
	assert.True(t, math.IsNaN(price))

	// exclusion lasts one cycle only
	feeds["B"].price = 102
	price, err = a.GetAggregatedPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 101.0, price, 1e-9)
}

func TestEndToEndVolumeWeighted(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 50},
		"B": {price: 102, trades: 50},
		"C": {price: 101, trades: 50},
	}
	a := newAggregator(t, feeds, models.MAggregatorConfig{MinValidFeeds: 2, Method: MethodVolumeWeighted})

	cycle, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 101.0, cycle.Price, 1e-9)
	assert.Equal(t, 3, cycle.ValidFeeds)
	assert.Equal(t, 3, cycle.TotalFeeds)
	assert.NotEmpty(t, cycle.ID)
}

func TestEndToEndMedianAndSimpleAverage(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 50},
		"B": {price: 102, trades: 50},
		"C": {price: 101, trades: 50},
	}
	median := newAggregator(t, feeds, models.MAggregatorConfig{Method: MethodMedian})
	price, err := median.GetAggregatedPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)

	simple := newAggregator(t, feeds, models.MAggregatorConfig{Method: MethodSimpleAverage})
	price, err = simple.GetAggregatedPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 101.0, price, 1e-9)
}

func TestVolumeWeightedFallsBackWithoutTrades(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100},
		"B": {price: 110},
	}
	a := newAggregator(t, feeds, models.MAggregatorConfig{})
	price, err := a.GetAggregatedPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 105.0, price, 1e-9)
}

// -----------------------------------------------------------------------------

func TestMaxWeightCapping(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 900},
		"B": {price: 110, trades: 100},
	}
	a := newAggregator(t, feeds, models.MAggregatorConfig{MaxSingleFeedWeight: 0.6})

	cycle, err := a.Aggregate(context.Background())
	require.NoError(t, err)

	sa := snapshotFor(t, cycle, "A")
	assert.True(t, sa.WeightCapped)
	assert.InDelta(t, 150.0, sa.EffectiveTrades, 1e-9)
	assert.LessOrEqual(t, sa.Weight, 0.6+1e-9)
	assert.InDelta(t, 0.6, sa.Weight, 1e-9)

	// 0.6*100 + 0.4*110
	assert.InDelta(t, 104.0, cycle.Price, 1e-9)
}

func TestWeightCapNotAppliedToSoleVolume(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 10},
		"B": {price: 110, trades: 0},
	}
	a := newAggregator(t, feeds, models.MAggregatorConfig{})
	cycle, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	assert.False(t, snapshotFor(t, cycle, "A").WeightCapped)
	assert.InDelta(t, 100.0, cycle.Price, 1e-9)
}

func TestVolumeSpikeCapping(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 10},
		"B": {price: 100, trades: 10},
	}
	// weight cap disabled to isolate the spike cap
	a := newAggregator(t, feeds, models.MAggregatorConfig{MaxSingleFeedWeight: 1, VolumeSpikeThreshold: 3.0})

	for i := 0; i < 4; i++ {
		cycle, err := a.Aggregate(context.Background())
		require.NoError(t, err)
		assert.False(t, snapshotFor(t, cycle, "A").VolumeCapped)
	}

	feeds["A"].trades = 500
	cycle, err := a.Aggregate(context.Background())
	require.NoError(t, err)

	sa := snapshotFor(t, cycle, "A")
	assert.True(t, sa.VolumeCapped)
	assert.Equal(t, 500, sa.Trades)
	assert.Equal(t, 30.0, sa.EffectiveTrades)
	assert.InDelta(t, 0.75, sa.Weight, 1e-9)
}

func TestVolumeSpikeNeedsHistory(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 10},
		"B": {price: 100, trades: 10},
	}
	a := newAggregator(t, feeds, models.MAggregatorConfig{MaxSingleFeedWeight: 1})

	for i := 0; i < 2; i++ {
		_, err := a.Aggregate(context.Background())
		require.NoError(t, err)
	}
	feeds["A"].trades = 500
	cycle, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	assert.False(t, snapshotFor(t, cycle, "A").VolumeCapped)
}

func TestDeviationIsFlaggedNotExcluded(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 10},
		"B": {price: 101, trades: 10},
		"C": {price: 120, trades: 10},
	}
	a := newAggregator(t, feeds, models.MAggregatorConfig{Method: MethodSimpleAverage})
	cycle, err := a.Aggregate(context.Background())
	require.NoError(t, err)

	assert.True(t, snapshotFor(t, cycle, "C").DeviationFlagged)
	assert.False(t, snapshotFor(t, cycle, "A").DeviationFlagged)
	assert.Equal(t, 3, cycle.ValidFeeds)
	assert.InDelta(t, 107.0, cycle.Price, 1e-9)
}

func TestSingleValidFeedSkipsProtections(t *testing.T) {
	feeds := map[string]*fakeSource{
		"A": {price: 100, trades: 900},
		"B": {price: math.NaN()},
	}
	a := newAggregator(t, feeds, models.MAggregatorConfig{MinValidFeeds: 1})
	cycle, err := a.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, cycle.Price)
	assert.False(t, snapshotFor(t, cycle, "A").WeightCapped)
}
