package oracle

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"keeper-oracle/src/analysis/core"
	"keeper-oracle/src/helpers"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
	"keeper-oracle/src/utils"
)

// ErrMalformedPair is returned for a trading pair without a '-' or '_' separator.
var ErrMalformedPair = errors.New("malformed trading pair")

// Reasons passed to the drop hook.
const (
	DropInvalid  = "invalid"
	DropNoRate   = "no_usdt_rate"
	DropNotional = "min_notional"
)

// -----------------------------------------------------------------------------
// FeedOracle
// -----------------------------------------------------------------------------

// FeedOracle turns raw exchange trades into a USD VWAP over a trailing window.
// A single adapter goroutine writes; the aggregator and control surfaces read.
type FeedOracle struct {
	mu sync.RWMutex

	name         string
	pairs        []string
	baseCurrency string

	window           *TradeWindow
	windowSec        float64
	startupWindowSec float64
	minNotional      float64

	usdtUsdRate float64 // NaN until the first rate arrives
	startTime   time.Time
	started     bool
	lastTradeTs int64
	lastPrice   float64

	now    func() time.Time
	logger *logger.Logger
	onDrop func(reason string)
}

// Option configures a FeedOracle.
type Option func(*FeedOracle)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *FeedOracle) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *FeedOracle) { o.logger = l }
}

// WithDropHook is called with a reason for every rejected trade.
func WithDropHook(fn func(reason string)) Option {
	return func(o *FeedOracle) { o.onDrop = fn }
}

// -----------------------------------------------------------------------------

func NewFeedOracle(name string, pairs []string, windowSec, startupWindowSec, minNotional float64, opts ...Option) (*FeedOracle, error) {
	if len(pairs) == 0 {
		return nil, helpers.NewValidationError("feed %s: at least one trading pair is required", name)
	}
	for _, p := range pairs {
		if _, err := splitPair(p); err != nil {
			return nil, err
		}
	}
	if err := validateParameters(&windowSec, &startupWindowSec, &minNotional); err != nil {
		return nil, err
	}

	base, _ := splitPair(pairs[0])
	o := &FeedOracle{
		name:             name,
		pairs:            append([]string(nil), pairs...),
		baseCurrency:     base,
		window:           NewTradeWindow(secondsToDuration(windowSec)),
		windowSec:        windowSec,
		startupWindowSec: startupWindowSec,
		minNotional:      minNotional,
		usdtUsdRate:      math.NaN(),
		lastPrice:        math.NaN(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.NewLogger(nil, "FeedOracle-"+name)
	}
	return o, nil
}

// -----------------------------------------------------------------------------

func splitPair(pair string) (string, error) {
	i := strings.IndexAny(pair, "-_")
	if i <= 0 || i == len(pair)-1 {
		return "", fmt.Errorf("%w: %q", ErrMalformedPair, pair)
	}
	return pair[:i], nil
}

// IsUsdtQuoted reports whether prices on pair need the USDT/USD rate.
func IsUsdtQuoted(pair string) bool {
	p := strings.ToUpper(pair)
	return strings.HasSuffix(p, "-USDT") || strings.HasSuffix(p, "_USDT")
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func validateParameters(windowSec, startupWindowSec, minNotional *float64) error {
	if windowSec != nil && (!(*windowSec > 0) || math.IsInf(*windowSec, 0)) {
		return helpers.NewValidationError("window_sec must be a positive number, got: %v", *windowSec)
	}
	if startupWindowSec != nil && (!(*startupWindowSec >= 0) || math.IsInf(*startupWindowSec, 0)) {
		return helpers.NewValidationError("startup_window_sec must be a non-negative number, got: %v", *startupWindowSec)
	}
	if minNotional != nil && (!(*minNotional >= 0) || math.IsInf(*minNotional, 0)) {
		return helpers.NewValidationError("min_notional must be a non-negative number, got: %v", *minNotional)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

func (o *FeedOracle) Name() string         { return o.name }
func (o *FeedOracle) BaseCurrency() string { return o.baseCurrency }

func (o *FeedOracle) Pairs() []string {
	return append([]string(nil), o.pairs...)
}

// Parameters returns window, startup window and min notional.
func (o *FeedOracle) Parameters() (float64, float64, float64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.windowSec, o.startupWindowSec, o.minNotional
}

// TradeCount returns the number of trades currently in the window.
func (o *FeedOracle) TradeCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.window.Len()
}

// UsdtUsdRate returns the conversion rate, NaN when unknown.
func (o *FeedOracle) UsdtUsdRate() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.usdtUsdRate
}

// StartTime returns the first subscription time.
func (o *FeedOracle) StartTime() (time.Time, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.startTime, o.started
}

// -----------------------------------------------------------------------------

// SetUsdtUsdRate stores a new conversion rate; non-positive values are ignored.
func (o *FeedOracle) SetUsdtUsdRate(rate float64) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return
	}
	o.mu.Lock()
	o.usdtUsdRate = rate
	o.mu.Unlock()
}

// -----------------------------------------------------------------------------

// MarkStarted records the first successful subscription. Later calls, such as
// after a reconnect, leave the startup window untouched. Returns true when the
// start time was set by this call.
func (o *FeedOracle) MarkStarted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return false
	}
	o.started = true
	o.startTime = o.now()
	o.logger.Info("%s oracle startup window: %.0f seconds", o.baseCurrency, o.startupWindowSec)
	return true
}

// -----------------------------------------------------------------------------

// AddTrade normalises a trade to USD and adds it to the window. Dust trades,
// non-positive values and USDT trades without a known rate are dropped
// silently. Only a malformed pair is an error.
func (o *FeedOracle) AddTrade(pair string, tsMs int64, price, qty float64) error {
	if _, err := splitPair(pair); err != nil {
		return err
	}
	if !(price > 0) || !(qty > 0) || math.IsInf(price, 0) || math.IsInf(qty, 0) {
		o.drop(DropInvalid)
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	usdPrice := price
	if IsUsdtQuoted(pair) {
		if math.IsNaN(o.usdtUsdRate) {
			o.drop(DropNoRate)
			return nil
		}
		usdPrice = price * o.usdtUsdRate
	}

	if usdPrice*qty < o.minNotional {
		o.drop(DropNotional)
		return nil
	}

	o.window.Add(models.MTrade{Timestamp: tsMs, Price: usdPrice, Quantity: qty})
	_ = o.window.Evict(utils.NowMs(o.now()))
	o.lastTradeTs = tsMs
	return nil
}

func (o *FeedOracle) drop(reason string) {
	if o.onDrop != nil {
		o.onDrop(reason)
	}
}

// -----------------------------------------------------------------------------

// Compute returns the current feed price and its metadata. While the startup
// window has not elapsed since the first subscription the price is NaN.
// Without volume the price falls back to fallbackMid, then to the last
// published price, and the result is marked degraded.
func (o *FeedOracle) Compute(fallbackMid *float64) (float64, models.MFeedMetadata) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	nowMs := utils.NowMs(now)
	if o.window.Len() > 0 {
		_ = o.window.Evict(nowMs)
	}

	meta := models.MFeedMetadata{
		Window: o.windowSec,
		Trades: o.window.Len(),
		Ts:     nowMs,
	}

	if o.inStartupLocked(now) {
		meta.Startup = true
		return math.NaN(), meta
	}

	meta.Stale = nowMs-o.lastTradeTs > utils.StaleAfterMs

	price := math.NaN()
	haveVWAP := false
	if o.window.Len() > 0 && o.window.Quantity() > 0 {
		price = o.trimmedVWAPLocked(o.window.Price())
		haveVWAP = !math.IsNaN(price)
	}

	if !haveVWAP {
		if fallbackMid != nil {
			price = *fallbackMid
		} else {
			price = o.lastPrice
		}
		meta.Degraded = true
	}

	o.lastPrice = price
	return price, meta
}

// -----------------------------------------------------------------------------

func (o *FeedOracle) inStartupLocked(now time.Time) bool {
	if !o.started {
		return true
	}
	return now.Sub(o.startTime).Seconds() < o.startupWindowSec
}

// -----------------------------------------------------------------------------

// trimmedVWAPLocked recomputes the VWAP over the inner part of the sorted price
// distribution when vwap sits too far from the median trade price.
func (o *FeedOracle) trimmedVWAPLocked(vwap float64) float64 {
	trades := o.window.Trades()
	n := len(trades)
	if n <= utils.OutlierMinTrades {
		return vwap
	}

	prices := make([]float64, n)
	for i, t := range trades {
		prices[i] = t.Price
	}
	median := core.CalculateMedian(prices)
	if !(median > 0) || math.Abs(vwap-median)/median <= utils.OutlierDeviation {
		return vwap
	}

	sort.Float64s(prices)
	k := (n + 9) / 10 // ceil(n/10) from each end
	lo, hi := prices[k], prices[n-1-k]

	num, qty := 0.0, 0.0
	for _, t := range trades {
		if t.Price >= lo && t.Price <= hi {
			num += t.Price * t.Quantity
			qty += t.Quantity
		}
	}
	if qty == 0 {
		return vwap
	}
	trimmed := num / qty
	o.logger.Debug("outlier trim: vwap %.6f median %.6f -> %.6f (%d trades, %d trimmed per side)", vwap, median, trimmed, n, k)
	return trimmed
}

// -----------------------------------------------------------------------------

// UpdateParameters applies a partial parameter update. All values are
// validated before anything changes. Shrinking the window evicts at once.
func (o *FeedOracle) UpdateParameters(p models.MFeedParameters) error {
	if err := validateParameters(p.WindowSec, p.StartupWindowSec, p.MinNotional); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if p.WindowSec != nil {
		old := o.windowSec
		o.windowSec = *p.WindowSec
		o.window.SetWindow(secondsToDuration(o.windowSec))
		if o.windowSec < old && o.window.Len() > 0 {
			before := o.window.Len()
			_ = o.window.Evict(utils.NowMs(o.now()))
			if removed := before - o.window.Len(); removed > 0 {
				o.logger.Info("Window reduced from %vs to %vs, removed %d old trades", old, o.windowSec, removed)
			}
		}
	}
	if p.StartupWindowSec != nil {
		o.startupWindowSec = *p.StartupWindowSec
	}
	if p.MinNotional != nil {
		o.minNotional = *p.MinNotional
	}

	o.logger.Info("Updated %s parameters: window_sec=%v, startup_window_sec=%v, min_notional=%v",
		o.name, o.windowSec, o.startupWindowSec, o.minNotional)
	return nil
}
