package rates

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"keeper-oracle/src/helpers"
	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

const DefaultURL = "https://api.coinbase.com/v2/prices/USDT-USD/spot"

// ApplyDefaults fills unset rate fetcher settings.
func ApplyDefaults(cfg models.MRatesConfig) models.MRatesConfig {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.PollSeconds == 0 {
		cfg.PollSeconds = 15
	}
	if cfg.BaseDelaySeconds == 0 {
		cfg.BaseDelaySeconds = 5
	}
	if cfg.MaxDelaySeconds == 0 {
		cfg.MaxDelaySeconds = 60
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 1.5
	}
	return cfg
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// -----------------------------------------------------------------------------
// UsdtUsdRateUpdater
// -----------------------------------------------------------------------------

// UsdtUsdRateUpdater polls a spot price endpoint for USDT/USD and hands every
// positive rate to its subscribers.
type UsdtUsdRateUpdater struct {
	cfg     models.MRatesConfig
	network interfaces.INetworkManager
	backoff *helpers.ExponentialBackoff
	logger  *logger.Logger

	mu          sync.RWMutex
	rate        float64
	updatedAt   time.Time
	failures    int64
	subscribers []func(float64)
	onFailure   func()

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

func NewUsdtUsdRateUpdater(cfg models.MRatesConfig, nm interfaces.INetworkManager, log *logger.Logger) *UsdtUsdRateUpdater {
	cfg = ApplyDefaults(cfg)
	if log == nil {
		log = logger.NewLogger(nil, "UsdtUsdRate")
	}
	return &UsdtUsdRateUpdater{
		cfg:     cfg,
		network: nm,
		backoff: helpers.NewExponentialBackoff(seconds(cfg.BaseDelaySeconds), seconds(cfg.MaxDelaySeconds), cfg.Multiplier, time.Second),
		logger:  log,
		rate:    math.NaN(),
		sleep:   helpers.SleepContext,
		now:     time.Now,
	}
}

// -----------------------------------------------------------------------------

// Subscribe registers fn to receive every fetched rate. The current rate, if
// known, is delivered immediately.
func (u *UsdtUsdRateUpdater) Subscribe(fn func(float64)) {
	u.mu.Lock()
	u.subscribers = append(u.subscribers, fn)
	rate := u.rate
	u.mu.Unlock()

	if !math.IsNaN(rate) {
		fn(rate)
	}
}

// OnFailure registers a hook called after every failed fetch.
func (u *UsdtUsdRateUpdater) OnFailure(fn func()) {
	u.mu.Lock()
	u.onFailure = fn
	u.mu.Unlock()
}

// Rate returns the last fetched rate and whether one is known.
func (u *UsdtUsdRateUpdater) Rate() (float64, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.rate, !math.IsNaN(u.rate)
}

// UpdatedAt returns the time of the last successful fetch.
func (u *UsdtUsdRateUpdater) UpdatedAt() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.updatedAt
}

// Failures returns the number of failed fetches so far.
func (u *UsdtUsdRateUpdater) Failures() int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.failures
}

// -----------------------------------------------------------------------------

// FetchOnce performs a single request and returns the parsed rate.
func (u *UsdtUsdRateUpdater) FetchOnce(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(u.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	body, err := u.network.Get(ctx, u.cfg.URL, nil)
	if err != nil {
		return math.NaN(), err
	}
	return ParseSpotAmount(body)
}

// ParseSpotAmount reads data.amount from a spot price response.
func ParseSpotAmount(body []byte) (float64, error) {
	amount := gjson.GetBytes(body, "data.amount")
	if !amount.Exists() {
		return math.NaN(), helpers.NewDataSourceError("spot response has no data.amount", nil)
	}
	d, err := decimal.NewFromString(amount.String())
	if err != nil {
		return math.NaN(), helpers.NewDataSourceError(fmt.Sprintf("bad amount %q", amount.String()), err)
	}
	if !d.IsPositive() {
		return math.NaN(), helpers.NewDataSourceError(fmt.Sprintf("non-positive amount %s", d), nil)
	}
	rate, _ := d.Float64()
	return rate, nil
}

// -----------------------------------------------------------------------------

// Run polls until ctx is cancelled. Successes wait the poll interval and reset
// the backoff; failures wait the current backoff delay.
func (u *UsdtUsdRateUpdater) Run(ctx context.Context) error {
	u.logger.Info("Starting USDT-USD rate updater (%s)", u.cfg.URL)
	for {
		var wait time.Duration

		rate, err := u.FetchOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = u.backoff.Next()
			u.recordFailure()
			u.logger.Warning("Failed to fetch USDT-USD price: %v. Retrying in %.2fs.", err, wait.Seconds())
		} else {
			u.publish(rate)
			u.backoff.Reset()
			wait = seconds(u.cfg.PollSeconds)
		}

		if err := u.sleep(ctx, wait); err != nil {
			u.logger.Info("USDT-USD rate updater stopped")
			return err
		}
	}
}

// -----------------------------------------------------------------------------

func (u *UsdtUsdRateUpdater) publish(rate float64) {
	u.mu.Lock()
	u.rate = rate
	u.updatedAt = u.now()
	subs := make([]func(float64), len(u.subscribers))
	copy(subs, u.subscribers)
	u.mu.Unlock()

	u.logger.Debug("USDT-USD=%.6f", rate)
	for _, fn := range subs {
		fn(rate)
	}
}

func (u *UsdtUsdRateUpdater) recordFailure() {
	u.mu.Lock()
	u.failures++
	hook := u.onFailure
	u.mu.Unlock()

	if hook != nil {
		hook()
	}
}
