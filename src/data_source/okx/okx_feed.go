package okx

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	datasource "keeper-oracle/src/data_source"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

const (
	Exchange   = "OKX"
	DefaultURL = "wss://ws.okx.com:8443/ws/v5/public"
)

// -----------------------------------------------------------------------------
// Protocol for the OKX v5 public websocket (trades + books5)
// -----------------------------------------------------------------------------

type Protocol struct {
	url string
}

func NewProtocol(url string) *Protocol {
	if url == "" {
		url = DefaultURL
	}
	return &Protocol{url: url}
}

// NewFeed builds an OKX feed from its configuration.
func NewFeed(cfg models.MFeedConfig, log *logger.Logger, opts ...datasource.FeedOption) (*datasource.BaseFeed, error) {
	return datasource.NewBaseFeed(cfg, NewProtocol(cfg.URL), log, opts...)
}

// -----------------------------------------------------------------------------

func (p *Protocol) Exchange() string { return Exchange }

func (p *Protocol) Endpoint(ctx context.Context) (datasource.Endpoint, error) {
	return datasource.Endpoint{URL: p.url, PingInterval: 15 * time.Second}, nil
}

func (p *Protocol) Ping() interface{} { return nil }

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscribeMsg struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

func (p *Protocol) Subscriptions(pairs []string) []interface{} {
	trades := subscribeMsg{Op: "subscribe"}
	books := subscribeMsg{Op: "subscribe"}
	for _, pair := range pairs {
		trades.Args = append(trades.Args, subscribeArg{Channel: "trades", InstID: pair})
		books.Args = append(books.Args, subscribeArg{Channel: "books5", InstID: pair})
	}
	return []interface{}{trades, books}
}

// -----------------------------------------------------------------------------

func (p *Protocol) Handle(message []byte, sink datasource.Sink) error {
	msg := gjson.ParseBytes(message)

	if event := msg.Get("event"); event.Exists() {
		switch event.String() {
		case "subscribe":
			sink.Subscribed(msg.Get("arg").Raw)
		case "error":
			return fmt.Errorf("subscription error %s: %s", msg.Get("code").String(), msg.Get("msg").String())
		}
		return nil
	}

	arg := msg.Get("arg")
	if !arg.Exists() {
		return nil
	}
	instID := arg.Get("instId").String()

	switch arg.Get("channel").String() {
	case "trades":
		for _, t := range msg.Get("data").Array() {
			sink.Trade(instID, t.Get("ts").Int(), t.Get("px").Float(), t.Get("sz").Float())
		}
	case "books5":
		d := msg.Get("data.0")
		bid, ask := d.Get("bids.0"), d.Get("asks.0")
		if !bid.Exists() || !ask.Exists() {
			return nil
		}
		sink.Book(models.MBookTop{
			Pair:    instID,
			Bid:     bid.Get("0").Float(),
			Ask:     ask.Get("0").Float(),
			BidSize: bid.Get("1").Float(),
			AskSize: ask.Get("1").Float(),
		})
	}
	return nil
}
