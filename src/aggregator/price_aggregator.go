package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"keeper-oracle/src/analysis/core"
	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
	"keeper-oracle/src/utils"
)

// Aggregation methods.
const (
	MethodVolumeWeighted = "volume_weighted"
	MethodMedian         = "median"
	MethodSimpleAverage  = "simple_average"
)

var (
	ErrTooFewFeeds    = errors.New("number of feeds is less than min_valid_feeds")
	ErrUnknownMethod  = errors.New("unknown aggregation method")
	ErrInvalidSetting = errors.New("invalid aggregator setting")
)

// -----------------------------------------------------------------------------
// PriceAggregator
// -----------------------------------------------------------------------------

// PriceAggregator polls a fixed set of price sources and fuses them into one
// price. It caps volume spikes and dominant feeds before aggregating and flags
// feeds far from the median without excluding them.
type PriceAggregator struct {
	mu      sync.Mutex
	feeds   map[string]interfaces.IPriceSource
	names   []string
	cfg     models.MAggregatorConfig
	history map[string]*utils.RingBuffer[int]
	logger  *logger.Logger
	now     func() time.Time
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills unset settings with the production defaults.
func ApplyDefaults(cfg models.MAggregatorConfig) models.MAggregatorConfig {
	if cfg.MinValidFeeds == 0 {
		cfg.MinValidFeeds = 2
	}
	if cfg.Method == "" {
		cfg.Method = MethodVolumeWeighted
	}
	if cfg.MaxSingleFeedWeight == 0 {
		cfg.MaxSingleFeedWeight = 0.6
	}
	if cfg.VolumeSpikeThreshold == 0 {
		cfg.VolumeSpikeThreshold = 3.0
	}
	if cfg.VolumeHistoryLength == 0 {
		cfg.VolumeHistoryLength = 20
	}
	if cfg.PriceDeviationThreshold == 0 {
		cfg.PriceDeviationThreshold = 0.05
	}
	if cfg.IntervalSeconds == 0 {
		cfg.IntervalSeconds = 10
	}
	return cfg
}

// Validate checks an aggregator configuration after defaults were applied.
func Validate(cfg models.MAggregatorConfig) error {
	switch cfg.Method {
	case MethodVolumeWeighted, MethodMedian, MethodSimpleAverage:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, cfg.Method)
	}
	switch {
	case cfg.MinValidFeeds < 1:
		return fmt.Errorf("%w: min_valid_feeds must be >= 1, got %d", ErrInvalidSetting, cfg.MinValidFeeds)
	case !(cfg.MaxSingleFeedWeight > 0) || cfg.MaxSingleFeedWeight > 1:
		return fmt.Errorf("%w: max_single_feed_weight must be in (0,1], got %v", ErrInvalidSetting, cfg.MaxSingleFeedWeight)
	case !(cfg.VolumeSpikeThreshold > 1):
		return fmt.Errorf("%w: volume_spike_threshold must be > 1, got %v", ErrInvalidSetting, cfg.VolumeSpikeThreshold)
	case !(cfg.PriceDeviationThreshold > 0):
		return fmt.Errorf("%w: price_deviation_threshold must be > 0, got %v", ErrInvalidSetting, cfg.PriceDeviationThreshold)
	case cfg.VolumeHistoryLength < 1:
		return fmt.Errorf("%w: volume_history_length must be >= 1, got %d", ErrInvalidSetting, cfg.VolumeHistoryLength)
	}
	return nil
}

// -----------------------------------------------------------------------------

func NewPriceAggregator(feeds map[string]interfaces.IPriceSource, cfg models.MAggregatorConfig, log *logger.Logger) (*PriceAggregator, error) {
	cfg = ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if len(feeds) < cfg.MinValidFeeds {
		return nil, fmt.Errorf("%w: %d feeds, min_valid_feeds %d", ErrTooFewFeeds, len(feeds), cfg.MinValidFeeds)
	}
	if log == nil {
		log = logger.NewLogger(nil, "PriceAggregator")
	}

	a := &PriceAggregator{
		feeds:   make(map[string]interfaces.IPriceSource, len(feeds)),
		history: make(map[string]*utils.RingBuffer[int], len(feeds)),
		cfg:     cfg,
		logger:  log,
		now:     time.Now,
	}
	for name, feed := range feeds {
		a.feeds[name] = feed
		a.names = append(a.names, name)
		a.history[name] = utils.NewRingBuffer[int](cfg.VolumeHistoryLength)
	}
	sort.Strings(a.names)
	return a, nil
}

// -----------------------------------------------------------------------------

// FeedNames returns the configured feed names in polling order.
func (a *PriceAggregator) FeedNames() []string {
	return append([]string(nil), a.names...)
}

// FeedCount returns the number of configured feeds.
func (a *PriceAggregator) FeedCount() int {
	return len(a.names)
}

// Config returns the effective configuration.
func (a *PriceAggregator) Config() models.MAggregatorConfig {
	return a.cfg
}

// -----------------------------------------------------------------------------

// GetAggregatedPrice returns the fused price, NaN when too few feeds produced
// a usable price this cycle.
func (a *PriceAggregator) GetAggregatedPrice(ctx context.Context) (float64, error) {
	cycle, err := a.Aggregate(ctx)
	if err != nil {
		return math.NaN(), err
	}
	return cycle.Price, nil
}

// -----------------------------------------------------------------------------

// Aggregate polls every feed once and returns the full cycle record.
func (a *PriceAggregator) Aggregate(ctx context.Context) (models.MAggregationCycle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	cycle := models.MAggregationCycle{
		ID:         uuid.NewString(),
		Timestamp:  utils.NowMs(now),
		Price:      math.NaN(),
		Method:     a.cfg.Method,
		TotalFeeds: len(a.names),
		CreatedAt:  now.UTC(),
	}

	snapshots := a.collect(ctx)
	cycle.ValidFeeds = len(snapshots)

	if len(snapshots) < a.cfg.MinValidFeeds {
		a.logger.Warning("Insufficient valid feeds: %d/%d (minimum required: %d)",
			len(snapshots), len(a.names), a.cfg.MinValidFeeds)
		cycle.Feeds = snapshots
		return cycle, nil
	}

	if len(snapshots) >= 2 {
		a.flagDeviations(snapshots)
		a.capVolumeSpikes(snapshots)
		a.capFeedWeights(snapshots)
	}
	assignWeights(snapshots)

	price, err := a.combine(snapshots)
	if err != nil {
		return cycle, err
	}
	cycle.Price = price
	cycle.Feeds = snapshots

	a.logger.Info("Aggregated price (method=%s): %.6f from %d feeds: %s",
		a.cfg.Method, price, len(snapshots), describe(snapshots))
	return cycle, nil
}

// -----------------------------------------------------------------------------

func (a *PriceAggregator) collect(ctx context.Context) []models.MFeedSnapshot {
	snapshots := make([]models.MFeedSnapshot, 0, len(a.names))
	for _, name := range a.names {
		price, meta, err := a.feeds[name].GetPrice(ctx)
		if err != nil {
			a.logger.Error("Failed to get price from feed %s: %v", name, err)
			continue
		}
		if math.IsNaN(price) || math.IsInf(price, 0) {
			a.logger.Debug("Feed %s returned invalid price (NaN)", name)
			continue
		}

		a.history[name].Append(meta.Trades)
		snapshots = append(snapshots, models.MFeedSnapshot{
			Feed:            name,
			Price:           price,
			Trades:          meta.Trades,
			EffectiveTrades: float64(meta.Trades),
			Metadata:        meta,
		})
		a.logger.Debug("Feed %s: price=%.6f, trades=%d, stale=%v", name, price, meta.Trades, meta.Stale)
	}
	return snapshots
}

// -----------------------------------------------------------------------------

// flagDeviations logs feeds far from the cross-feed median. Flagged feeds
// still take part in the aggregate.
func (a *PriceAggregator) flagDeviations(snapshots []models.MFeedSnapshot) {
	prices := make([]float64, len(snapshots))
	for i, s := range snapshots {
		prices[i] = s.Price
	}
	median := core.CalculateMedian(prices)
	if !(median > 0) {
		return
	}

	for i := range snapshots {
		deviation := math.Abs(snapshots[i].Price-median) / median
		if deviation > a.cfg.PriceDeviationThreshold {
			snapshots[i].DeviationFlagged = true
			a.logger.Warning("Feed %s has price %.6f deviating %.2f%% from median %.6f (threshold: %.2f%%)",
				snapshots[i].Feed, snapshots[i].Price, deviation*100, median, a.cfg.PriceDeviationThreshold*100)
		}
	}
}

// -----------------------------------------------------------------------------

// capVolumeSpikes limits a feed's trade count to threshold times its average
// over previous cycles. The current sample is already in the history.
func (a *PriceAggregator) capVolumeSpikes(snapshots []models.MFeedSnapshot) {
	for i := range snapshots {
		s := &snapshots[i]
		hist := a.history[s.Feed].GetAll()
		if len(hist) <= 3 {
			continue
		}

		previous := make([]float64, len(hist)-1)
		for j, v := range hist[:len(hist)-1] {
			previous[j] = float64(v)
		}
		avg := core.CalculateMean(previous)
		limit := avg * a.cfg.VolumeSpikeThreshold
		if avg > 0 && float64(s.Trades) > limit {
			capped := math.Floor(limit)
			a.logger.Warning("Feed %s volume spike detected: %d trades (avg: %.1f, threshold: %.1fx). Capping to %.0f",
				s.Feed, s.Trades, avg, a.cfg.VolumeSpikeThreshold, capped)
			s.EffectiveTrades = capped
			s.VolumeCapped = true
		}
	}
}

// -----------------------------------------------------------------------------

// capFeedWeights reduces any feed whose share of the total effective trades
// exceeds the maximum so that its share equals the maximum against the other
// feeds' current totals. Feeds are capped one at a time in name order.
func (a *PriceAggregator) capFeedWeights(snapshots []models.MFeedSnapshot) {
	maxWeight := a.cfg.MaxSingleFeedWeight
	if maxWeight >= 1 {
		return
	}

	for i := range snapshots {
		s := &snapshots[i]
		total := totalEffective(snapshots)
		if total <= 0 {
			return
		}
		share := s.EffectiveTrades / total
		if share <= maxWeight {
			continue
		}

		others := total - s.EffectiveTrades
		if others <= 0 {
			a.logger.Warning("Feed %s carries all volume, weight cap not applicable", s.Feed)
			continue
		}
		capped := maxWeight / (1 - maxWeight) * others
		a.logger.Warning("Feed %s weight capped: %.2f%% -> %.2f%% (trades: %.0f -> %.2f)",
			s.Feed, share*100, maxWeight*100, s.EffectiveTrades, capped)
		s.EffectiveTrades = capped
		s.WeightCapped = true
	}
}

// -----------------------------------------------------------------------------

func totalEffective(snapshots []models.MFeedSnapshot) float64 {
	total := 0.0
	for _, s := range snapshots {
		total += s.EffectiveTrades
	}
	return total
}

func assignWeights(snapshots []models.MFeedSnapshot) {
	total := totalEffective(snapshots)
	for i := range snapshots {
		if total > 0 {
			snapshots[i].Weight = snapshots[i].EffectiveTrades / total
		} else {
			snapshots[i].Weight = 1 / float64(len(snapshots))
		}
	}
}

// -----------------------------------------------------------------------------

func (a *PriceAggregator) combine(snapshots []models.MFeedSnapshot) (float64, error) {
	prices := make([]float64, len(snapshots))
	weights := make([]float64, len(snapshots))
	for i, s := range snapshots {
		prices[i] = s.Price
		weights[i] = s.EffectiveTrades
	}

	switch a.cfg.Method {
	case MethodVolumeWeighted:
		if totalEffective(snapshots) <= 0 {
			a.logger.Warning("No trades in any feed, falling back to simple average")
			return core.CalculateMean(prices), nil
		}
		return core.CalculateWeightedMean(prices, weights), nil
	case MethodMedian:
		return core.CalculateMedian(prices), nil
	case MethodSimpleAverage:
		return core.CalculateMean(prices), nil
	default:
		return math.NaN(), fmt.Errorf("%w: %q", ErrUnknownMethod, a.cfg.Method)
	}
}

// -----------------------------------------------------------------------------

func describe(snapshots []models.MFeedSnapshot) string {
	parts := make([]string, len(snapshots))
	for i, s := range snapshots {
		parts[i] = fmt.Sprintf("%s=$%.6f(trades=%d,weight=%.2f%%)", s.Feed, s.Price, s.Trades, s.Weight*100)
	}
	return strings.Join(parts, ", ")
}
