package gate

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
	Exchange   = "Gate.io"
	DefaultURL = "wss://api.gateio.ws/ws/v4/"
)

// -----------------------------------------------------------------------------
// Protocol for the Gate.io v4 spot websocket (spot.trades + spot.book_ticker).
// Pairs use an underscore: XCH_USDT.
// -----------------------------------------------------------------------------

type Protocol struct {
	url string
	now func() time.Time
}

func NewProtocol(url string) *Protocol {
	if url == "" {
		url = DefaultURL
	}
	return &Protocol{url: url, now: time.Now}
}

// NewFeed builds a Gate.io feed from its configuration.
func NewFeed(cfg models.MFeedConfig, log *logger.Logger, opts ...datasource.FeedOption) (*datasource.BaseFeed, error) {
	return datasource.NewBaseFeed(cfg, NewProtocol(cfg.URL), log, opts...)
}

// -----------------------------------------------------------------------------

func (p *Protocol) Exchange() string { return Exchange }

func (p *Protocol) Endpoint(ctx context.Context) (datasource.Endpoint, error) {
	return datasource.Endpoint{URL: p.url, PingInterval: 15 * time.Second}, nil
}

func (p *Protocol) Ping() interface{} { return nil }

type request struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload"`
}

func (p *Protocol) Subscriptions(pairs []string) []interface{} {
	now := p.now().Unix()
	out := make([]interface{}, 0, 2*len(pairs))
	for _, pair := range pairs {
		out = append(out,
			request{Time: now, Channel: "spot.trades", Event: "subscribe", Payload: []string{pair}},
			request{Time: now, Channel: "spot.book_ticker", Event: "subscribe", Payload: []string{pair}},
		)
	}
	return out
}

// -----------------------------------------------------------------------------

func (p *Protocol) Handle(message []byte, sink datasource.Sink) error {
	msg := gjson.ParseBytes(message)
	channel := msg.Get("channel").String()

	switch msg.Get("event").String() {
	case "subscribe":
		if e := msg.Get("error"); e.Exists() && e.Type != gjson.Null {
			return fmt.Errorf("subscription error on %s: %s", channel, e.Get("message").String())
		}
		if msg.Get("result.status").String() == "success" {
			sink.Subscribed(channel)
		}
		return nil
	case "update":
	default:
		return nil
	}

	result := msg.Get("result")
	if !result.Exists() {
		return nil
	}

	switch channel {
	case "spot.trades":
		ts := result.Get("create_time_ms").Int()
		if ts == 0 {
			ts = result.Get("create_time").Int() * 1000
		}
		sink.Trade(result.Get("currency_pair").String(), ts, result.Get("price").Float(), result.Get("amount").Float())
	case "spot.book_ticker":
		sink.Book(models.MBookTop{
			Pair:    result.Get("s").String(),
			Bid:     result.Get("b").Float(),
			Ask:     result.Get("a").Float(),
			BidSize: result.Get("B").Float(),
			AskSize: result.Get("A").Float(),
		})
	}
	return nil
}
