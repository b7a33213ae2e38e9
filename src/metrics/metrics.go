package metrics

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keeper-oracle/src/models"
)

const namespace = "keeper_oracle"

// Metrics holds every collector of the process, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// === Aggregation ===

	AggregatedPrice prometheus.Gauge
	ValidFeeds      prometheus.Gauge
	CycleDuration   prometheus.Histogram
	Cycles          *prometheus.CounterVec // result: ok, nan, error

	// === Per feed ===

	FeedPrice      *prometheus.GaugeVec
	FeedTrades     *prometheus.GaugeVec
	FeedWeight     *prometheus.GaugeVec
	VolumeCaps     *prometheus.CounterVec
	WeightCaps     *prometheus.CounterVec
	DeviationFlags *prometheus.CounterVec
	DroppedTrades  *prometheus.CounterVec // feed, reason
	Reconnects     *prometheus.CounterVec

	// === Rates ===

	UsdtUsdRate  prometheus.Gauge
	RateFailures prometheus.Counter

	// === Keeper ===

	RPCCalls *prometheus.CounterVec // method, outcome
	BotRuns  *prometheus.CounterVec // bot, outcome
}

// -----------------------------------------------------------------------------

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AggregatedPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "aggregated_price",
			Help: "Last aggregated price in USD, NaN when too few feeds were valid",
		}),
		ValidFeeds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "valid_feeds",
			Help: "Number of feeds with a usable price in the last cycle",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Time spent computing one aggregation cycle",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Aggregation cycles by result",
		}, []string{"result"}),

		FeedPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_price",
			Help: "Last price reported by each feed",
		}, []string{"feed"}),
		FeedTrades: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_trades",
			Help: "Trades in each feed window",
		}, []string{"feed"}),
		FeedWeight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_weight",
			Help: "Weight of each feed in the last cycle",
		}, []string{"feed"}),
		VolumeCaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "volume_spike_caps_total",
			Help: "Cycles in which a feed's trade count was capped as a spike",
		}, []string{"feed"}),
		WeightCaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "weight_caps_total",
			Help: "Cycles in which a feed's weight was capped",
		}, []string{"feed"}),
		DeviationFlags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deviation_flags_total",
			Help: "Cycles in which a feed deviated from the median",
		}, []string{"feed"}),
		DroppedTrades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_trades_total",
			Help: "Trades dropped before entering a window, by reason",
		}, []string{"feed", "reason"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_reconnects_total",
			Help: "Websocket reconnects per feed",
		}, []string{"feed"}),

		UsdtUsdRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "usdt_usd_rate",
			Help: "Last fetched USDT/USD conversion rate",
		}),
		RateFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "usdt_usd_rate_failures_total",
			Help: "Failed USDT/USD rate fetches",
		}),

		RPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rpc_calls_total",
			Help: "Circuit RPC calls by method and outcome",
		}, []string{"method", "outcome"}),
		BotRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bot_runs_total",
			Help: "Keeper bot steps by outcome",
		}, []string{"bot", "outcome"}),
	}
}

// -----------------------------------------------------------------------------

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// -----------------------------------------------------------------------------

// ObserveCycle records one aggregation cycle.
func (m *Metrics) ObserveCycle(c models.MAggregationCycle, took time.Duration) {
	m.CycleDuration.Observe(took.Seconds())
	m.AggregatedPrice.Set(c.Price)
	m.ValidFeeds.Set(float64(c.ValidFeeds))
	if math.IsNaN(c.Price) {
		m.Cycles.WithLabelValues("nan").Inc()
	} else {
		m.Cycles.WithLabelValues("ok").Inc()
	}

	for _, f := range c.Feeds {
		m.FeedPrice.WithLabelValues(f.Feed).Set(f.Price)
		m.FeedTrades.WithLabelValues(f.Feed).Set(float64(f.Trades))
		m.FeedWeight.WithLabelValues(f.Feed).Set(f.Weight)
		if f.VolumeCapped {
			m.VolumeCaps.WithLabelValues(f.Feed).Inc()
		}
		if f.WeightCapped {
			m.WeightCaps.WithLabelValues(f.Feed).Inc()
		}
		if f.DeviationFlagged {
			m.DeviationFlags.WithLabelValues(f.Feed).Inc()
		}
	}
}

// CycleFailed counts a cycle that returned an error.
func (m *Metrics) CycleFailed() {
	m.Cycles.WithLabelValues("error").Inc()
}

// DropHook returns a FeedOracle drop callback for feed.
func (m *Metrics) DropHook(feed string) func(reason string) {
	return func(reason string) {
		m.DroppedTrades.WithLabelValues(feed, reason).Inc()
	}
}

// ReconnectHook returns a feed reconnect callback.
func (m *Metrics) ReconnectHook(feed string) func() {
	counter := m.Reconnects.WithLabelValues(feed)
	return counter.Inc
}

func (m *Metrics) SetUsdtUsdRate(rate float64) {
	m.UsdtUsdRate.Set(rate)
}

func (m *Metrics) RateFailure() {
	m.RateFailures.Inc()
}

// RPCCall counts one RPC call; err decides the outcome label.
func (m *Metrics) RPCCall(method string, err error) {
	m.RPCCalls.WithLabelValues(method, outcome(err)).Inc()
}

// BotRun counts one keeper bot step.
func (m *Metrics) BotRun(bot string, err error) {
	m.BotRuns.WithLabelValues(bot, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
