package datasource

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"keeper-oracle/src/helpers"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
	"keeper-oracle/src/oracle"
	"keeper-oracle/src/utils"
)

// Feed defaults used when the configuration leaves them unset.
const (
	DefaultWindowSec        = 5.0
	DefaultStartupWindowSec = 900.0
	DefaultMinNotional      = 10.0

	statusLogInterval = 10 * time.Second
	writeTimeout      = 10 * time.Second
)

// -----------------------------------------------------------------------------
// Wire protocol contract
// -----------------------------------------------------------------------------

// Endpoint is where and how often to keep a connection alive.
type Endpoint struct {
	URL          string
	PingInterval time.Duration // 0 disables pings
}

// Sink receives decoded exchange events.
type Sink interface {
	Trade(pair string, tsMs int64, price, qty float64)
	Book(top models.MBookTop)
	Subscribed(detail string)
}

// Protocol translates one exchange's websocket messages. Implementations hold
// no feed state.
type Protocol interface {
	Exchange() string
	Endpoint(ctx context.Context) (Endpoint, error)
	Subscriptions(pairs []string) []interface{}
	// Ping returns an application-level ping; nil means a websocket ping frame.
	Ping() interface{}
	Handle(message []byte, sink Sink) error
}

// -----------------------------------------------------------------------------
// BaseFeed
// -----------------------------------------------------------------------------

// BaseFeed owns the FeedOracle and top-of-book store of one exchange feed and
// runs the connect, subscribe and read loop around a Protocol.
type BaseFeed struct {
	name     string
	pairs    []string
	protocol Protocol
	oracle   *oracle.FeedOracle
	book     *oracle.BookMids
	dialer   *websocket.Dialer
	logger   *logger.Logger

	oracleOpts []oracle.Option

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	reconnects  atomic.Int64
	onReconnect func()
	lastStatus  time.Time

	sleep func(context.Context, time.Duration) error
}

// FeedOption configures a BaseFeed.
type FeedOption func(*BaseFeed)

// WithReconnectHook is called every time the connection is lost.
func WithReconnectHook(fn func()) FeedOption {
	return func(b *BaseFeed) { b.onReconnect = fn }
}

// WithOracleOptions forwards options to the underlying FeedOracle.
func WithOracleOptions(opts ...oracle.Option) FeedOption {
	return func(b *BaseFeed) { b.oracleOpts = append(b.oracleOpts, opts...) }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) FeedOption {
	return func(b *BaseFeed) { b.dialer = d }
}

// -----------------------------------------------------------------------------

// ApplyFeedDefaults fills unset feed settings.
func ApplyFeedDefaults(cfg models.MFeedConfig) models.MFeedConfig {
	if cfg.Name == "" {
		cfg.Name = cfg.Exchange
	}
	if cfg.WindowSec == 0 {
		cfg.WindowSec = DefaultWindowSec
	}
	if cfg.StartupWindowSec == nil {
		v := DefaultStartupWindowSec
		cfg.StartupWindowSec = &v
	}
	if cfg.MinNotional == nil {
		v := DefaultMinNotional
		cfg.MinNotional = &v
	}
	return cfg
}

// NewBaseFeed builds the oracle for cfg and wraps it around protocol.
func NewBaseFeed(cfg models.MFeedConfig, protocol Protocol, log *logger.Logger, opts ...FeedOption) (*BaseFeed, error) {
	cfg = ApplyFeedDefaults(cfg)
	if log == nil {
		log = logger.NewLogger(nil, "Feed-"+cfg.Name)
	}

	b := &BaseFeed{
		name:     cfg.Name,
		pairs:    append([]string(nil), cfg.Pairs...),
		protocol: protocol,
		book:     oracle.NewBookMids(),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   log,
		sleep:    helpers.SleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}

	oracleOpts := append([]oracle.Option{oracle.WithLogger(log)}, b.oracleOpts...)
	o, err := oracle.NewFeedOracle(cfg.Name, cfg.Pairs, cfg.WindowSec, *cfg.StartupWindowSec, *cfg.MinNotional, oracleOpts...)
	if err != nil {
		return nil, err
	}
	b.oracle = o
	return b, nil
}

// -----------------------------------------------------------------------------

func (b *BaseFeed) Name() string               { return b.name }
func (b *BaseFeed) Exchange() string           { return b.protocol.Exchange() }
func (b *BaseFeed) Oracle() *oracle.FeedOracle { return b.oracle }
func (b *BaseFeed) Mids() *oracle.BookMids     { return b.book }
func (b *BaseFeed) Reconnects() int64          { return b.reconnects.Load() }

// GetPrice computes the oracle price with the current book fallback.
func (b *BaseFeed) GetPrice(ctx context.Context) (float64, models.MFeedMetadata, error) {
	if err := ctx.Err(); err != nil {
		return math.NaN(), models.MFeedMetadata{}, err
	}
	price, meta := b.oracle.Compute(b.book.Fallback())
	return price, meta, nil
}

// SetUsdtUsdRate forwards the conversion rate to the oracle.
func (b *BaseFeed) SetUsdtUsdRate(rate float64) {
	b.oracle.SetUsdtUsdRate(rate)
}

// UpdateParameters hot-reloads oracle parameters.
func (b *BaseFeed) UpdateParameters(params models.MFeedParameters) error {
	return b.oracle.UpdateParameters(params)
}

// IsRunning reports whether the read loop is active.
func (b *BaseFeed) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Status returns a snapshot for the control surfaces.
func (b *BaseFeed) Status() models.MFeedStatus {
	window, startup, minNotional := b.oracle.Parameters()
	_, started := b.oracle.StartTime()
	status := models.MFeedStatus{
		Name:             b.name,
		Exchange:         b.Exchange(),
		Pairs:            b.oracle.Pairs(),
		IsRunning:        b.IsRunning(),
		Started:          started,
		WindowSec:        window,
		StartupWindowSec: startup,
		MinNotional:      minNotional,
		Trades:           b.oracle.TradeCount(),
		Reconnects:       b.reconnects.Load(),
	}
	if rate := b.oracle.UsdtUsdRate(); !math.IsNaN(rate) {
		status.UsdtUsdRate = &rate
	}
	return status
}

// -----------------------------------------------------------------------------
// Sink
// -----------------------------------------------------------------------------

func (b *BaseFeed) Trade(pair string, tsMs int64, price, qty float64) {
	if err := b.oracle.AddTrade(pair, tsMs, price, qty); err != nil {
		b.logger.Warning("Rejected trade on %s: %v", pair, err)
	}
}

func (b *BaseFeed) Book(top models.MBookTop) {
	b.book.Update(top, b.oracle.UsdtUsdRate())
}

func (b *BaseFeed) Subscribed(detail string) {
	b.logger.Info("Successfully subscribed to %s %s", b.Exchange(), detail)
	b.oracle.MarkStarted()
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the read loop; it runs until ctx is cancelled or Stop is called.
func (b *BaseFeed) Start(ctx context.Context, wg *sync.WaitGroup) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("feed %s is already running", b.name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer func() {
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
		}()
		b.run(runCtx)
	}()

	b.logger.Info("Started %s feed for %v", b.Exchange(), b.pairs)
	return nil
}

// Stop cancels the read loop. Oracle state is kept for a later Start.
func (b *BaseFeed) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return nil
}

// -----------------------------------------------------------------------------

func (b *BaseFeed) run(ctx context.Context) {
	for {
		err := b.session(ctx)
		if ctx.Err() != nil {
			b.logger.Info("%s feed stopped", b.Exchange())
			return
		}

		b.reconnects.Add(1)
		if b.onReconnect != nil {
			b.onReconnect()
		}
		delay := helpers.JitterDelay(utils.ReconnectBase, utils.ReconnectSpread)
		b.logger.Error("%s WebSocket connection error: %v. Reconnecting in %.1fs...", b.Exchange(), err, delay.Seconds())
		if err := b.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// -----------------------------------------------------------------------------

// session runs one connection until it fails or ctx ends.
func (b *BaseFeed) session(ctx context.Context) error {
	ep, err := b.protocol.Endpoint(ctx)
	if err != nil {
		return helpers.NewDataSourceError("resolve endpoint", err)
	}

	conn, _, err := b.dialer.DialContext(ctx, ep.URL, nil)
	if err != nil {
		return helpers.NewNetworkError("dial websocket", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for _, sub := range b.protocol.Subscriptions(b.pairs) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(sub); err != nil {
			return helpers.NewNetworkError("send subscription", err)
		}
	}
	b.logger.Info("Connected to %s WebSocket and subscribed to channels.", b.Exchange())

	if ep.PingInterval > 0 {
		go b.keepAlive(conn, ep.PingInterval, done)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := b.protocol.Handle(message, b); err != nil {
			b.logger.Error("%s: %v", b.Exchange(), err)
		}
		b.maybeLogStatus()
	}
}

// -----------------------------------------------------------------------------

// keepAlive is the only writer once the subscriptions are sent.
func (b *BaseFeed) keepAlive(conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			var err error
			if msg := b.protocol.Ping(); msg != nil {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err = conn.WriteJSON(msg)
			} else {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
			if err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					b.logger.Debug("%s ping failed: %v", b.Exchange(), err)
				}
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (b *BaseFeed) maybeLogStatus() {
	now := time.Now()
	if now.Sub(b.lastStatus) < statusLogInterval {
		return
	}
	b.lastStatus = now

	price, meta := b.oracle.Compute(b.book.Fallback())
	priceStr := "None"
	if !math.IsNaN(price) {
		priceStr = fmt.Sprintf("%.4f", price)
	}
	rateStr := "None"
	if rate := b.oracle.UsdtUsdRate(); !math.IsNaN(rate) {
		rateStr = fmt.Sprintf("%.4f", rate)
	}
	b.logger.Info("%s %s-USD oracle=%s trades=%d meta=%+v | USDT-USD=%s",
		b.Exchange(), b.oracle.BaseCurrency(), priceStr, meta.Trades, meta, rateStr)
}
