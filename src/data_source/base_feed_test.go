package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

type stubProtocol struct {
	url string
}

func (p *stubProtocol) Exchange() string { return "Stub" }

func (p *stubProtocol) Endpoint(ctx context.Context) (Endpoint, error) {
	return Endpoint{URL: p.url}, nil
}

func (p *stubProtocol) Subscriptions(pairs []string) []interface{} {
	return []interface{}{map[string]interface{}{"op": "subscribe", "pairs": pairs}}
}

func (p *stubProtocol) Ping() interface{} { return nil }

func (p *stubProtocol) Handle(message []byte, sink Sink) error {
	msg := gjson.ParseBytes(message)
	switch msg.Get("kind").String() {
	case "subscribed":
		sink.Subscribed("stub")
	case "trade":
		sink.Trade(msg.Get("pair").String(), msg.Get("ts").Int(), msg.Get("px").Float(), msg.Get("qty").Float())
	case "book":
		sink.Book(models.MBookTop{Pair: msg.Get("pair").String(), Bid: msg.Get("bid").Float(), Ask: msg.Get("ask").Float()})
	}
	return nil
}

func newStubFeed(t *testing.T, name, url string) *BaseFeed {
	t.Helper()
	zero := 0.0
	feed, err := NewBaseFeed(models.MFeedConfig{
		Name:             name,
		Exchange:         "stub",
		Pairs:            []string{"XCH-USD"},
		WindowSec:        60,
		StartupWindowSec: &zero,
		MinNotional:      &zero,
	}, &stubProtocol{url: url}, logger.Nop())
	require.NoError(t, err)
	return feed
}

// -----------------------------------------------------------------------------

func TestApplyFeedDefaults(t *testing.T) {
	cfg := ApplyFeedDefaults(models.MFeedConfig{Exchange: "okx"})
	assert.Equal(t, "okx", cfg.Name)
	assert.Equal(t, DefaultWindowSec, cfg.WindowSec)
	assert.Equal(t, DefaultStartupWindowSec, *cfg.StartupWindowSec)
	assert.Equal(t, DefaultMinNotional, *cfg.MinNotional)

	zero := 0.0
	cfg = ApplyFeedDefaults(models.MFeedConfig{Name: "x", StartupWindowSec: &zero})
	assert.Equal(t, 0.0, *cfg.StartupWindowSec)
}

func TestSinkFeedsOracleAndBook(t *testing.T) {
	feed := newStubFeed(t, "stub", "")
	now := time.Now().UnixMilli()

	feed.Subscribed("test")
	feed.Trade("XCH-USD", now, 30, 1)
	feed.Trade("XCHUSD", now, 30, 1) // malformed, logged and ignored
	feed.Book(models.MBookTop{Pair: "XCH-USD", Bid: 29, Ask: 31, BidSize: 1, AskSize: 1})

	price, meta, err := feed.GetPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30.0, price)
	assert.Equal(t, 1, meta.Trades)
	assert.Equal(t, 1, feed.Mids().Len())

	status := feed.Status()
	assert.True(t, status.Started)
	assert.False(t, status.IsRunning)
	assert.Nil(t, status.UsdtUsdRate)
	assert.Equal(t, 1, status.Trades)

	feed.SetUsdtUsdRate(0.999)
	require.NotNil(t, feed.Status().UsdtUsdRate)
}

func TestGetPriceHonoursContext(t *testing.T) {
	feed := newStubFeed(t, "stub", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := feed.GetPrice(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// -----------------------------------------------------------------------------

func TestBaseFeedReconnectKeepsStartTime(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := atomic.AddInt32(&connections, 1)
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{"kind": "subscribed"})
		_ = conn.WriteJSON(map[string]interface{}{
			"kind": "trade", "pair": "XCH-USD", "ts": time.Now().UnixMilli(), "px": 30.0 + float64(n), "qty": 1.0,
		})
		if n == 1 {
			return // drop the first connection
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	feed := newStubFeed(t, "stub", "ws"+strings.TrimPrefix(srv.URL, "http"))
	feed.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	var hookCalls int32
	feed.onReconnect = func() { atomic.AddInt32(&hookCalls, 1) }

	var wg sync.WaitGroup
	require.NoError(t, feed.Start(context.Background(), &wg))
	assert.Error(t, feed.Start(context.Background(), &wg))

	require.Eventually(t, func() bool { return feed.Oracle().TradeCount() >= 1 }, 5*time.Second, 10*time.Millisecond)
	first, started := feed.Oracle().StartTime()
	require.True(t, started)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&connections) >= 2 && feed.Oracle().TradeCount() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	again, _ := feed.Oracle().StartTime()
	assert.Equal(t, first, again)
	assert.GreaterOrEqual(t, feed.Reconnects(), int64(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hookCalls), int32(1))
	assert.True(t, feed.IsRunning())

	require.NoError(t, feed.Stop())
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
	assert.False(t, feed.IsRunning())
}
