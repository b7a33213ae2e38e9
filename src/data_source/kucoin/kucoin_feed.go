package kucoin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	datasource "keeper-oracle/src/data_source"
	"keeper-oracle/src/helpers"
	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

const (
	Exchange       = "KuCoin"
	DefaultRestURL = "https://api.kucoin.com"
	tokenPath      = "/api/v1/bullet-public"
	successCode    = "200000"

	defaultPingInterval = 18 * time.Second
	tokenAttempts       = 3
)

// -----------------------------------------------------------------------------
// Protocol for the KuCoin public websocket (/market/match + /market/ticker).
// The endpoint and token come from the REST bullet API on every connect.
// -----------------------------------------------------------------------------

type Protocol struct {
	restURL string
	network interfaces.INetworkManager
	logger  *logger.Logger
}

func NewProtocol(restURL string, nm interfaces.INetworkManager, log *logger.Logger) *Protocol {
	if restURL == "" {
		restURL = DefaultRestURL
	}
	if log == nil {
		log = logger.NewLogger(nil, "KuCoin")
	}
	return &Protocol{restURL: strings.TrimRight(restURL, "/"), network: nm, logger: log}
}

// NewFeed builds a KuCoin feed from its configuration.
func NewFeed(cfg models.MFeedConfig, nm interfaces.INetworkManager, log *logger.Logger, opts ...datasource.FeedOption) (*datasource.BaseFeed, error) {
	return datasource.NewBaseFeed(cfg, NewProtocol(cfg.RestURL, nm, log), log, opts...)
}

// -----------------------------------------------------------------------------

func (p *Protocol) Exchange() string { return Exchange }

// Endpoint requests a public bullet token and returns the first instance server.
func (p *Protocol) Endpoint(ctx context.Context) (datasource.Endpoint, error) {
	return helpers.RetryWithBackoff(ctx, "fetch kucoin token", tokenAttempts, time.Second, func() (datasource.Endpoint, error) {
		body, err := p.network.PostJSON(ctx, p.restURL+tokenPath, struct{}{})
		if err != nil {
			return datasource.Endpoint{}, err
		}
		return ParseBullet(body)
	})
}

// ParseBullet extracts the websocket endpoint from a bullet-public response.
func ParseBullet(body []byte) (datasource.Endpoint, error) {
	res := gjson.ParseBytes(body)
	if code := res.Get("code").String(); code != successCode {
		return datasource.Endpoint{}, fmt.Errorf("failed to get KuCoin token: code %s", code)
	}
	token := res.Get("data.token").String()
	server := res.Get("data.instanceServers.0")
	if token == "" || !server.Exists() {
		return datasource.Endpoint{}, fmt.Errorf("failed to get KuCoin token: no instance server")
	}

	interval := defaultPingInterval
	if ms := server.Get("pingInterval").Int(); ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}
	url := fmt.Sprintf("%s?token=%s&connectId=%s", server.Get("endpoint").String(), token, uuid.NewString())
	return datasource.Endpoint{URL: url, PingInterval: interval / 2}, nil
}

// -----------------------------------------------------------------------------

type envelope struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel"`
	Response       bool   `json:"response"`
}

func (p *Protocol) Subscriptions(pairs []string) []interface{} {
	out := make([]interface{}, 0, 2*len(pairs))
	for _, pair := range pairs {
		out = append(out,
			envelope{ID: uuid.NewString(), Type: "subscribe", Topic: "/market/match:" + pair, Response: true},
			envelope{ID: uuid.NewString(), Type: "subscribe", Topic: "/market/ticker:" + pair, Response: true},
		)
	}
	return out
}

func (p *Protocol) Ping() interface{} {
	return map[string]string{"id": uuid.NewString(), "type": "ping"}
}

// -----------------------------------------------------------------------------

func (p *Protocol) Handle(message []byte, sink datasource.Sink) error {
	msg := gjson.ParseBytes(message)

	switch msg.Get("type").String() {
	case "welcome":
		sink.Subscribed("welcome")
	case "ack":
		p.logger.Debug("KuCoin subscription acknowledged")
	case "error":
		return fmt.Errorf("kucoin error %s: %s", msg.Get("code").String(), msg.Get("data").String())
	case "message":
		topic := msg.Get("topic").String()
		data := msg.Get("data")
		if !data.Exists() {
			return nil
		}
		switch {
		case strings.HasPrefix(topic, "/market/match:"):
			// match time is in nanoseconds
			tsMs := data.Get("time").Int() / int64(time.Millisecond)
			sink.Trade(data.Get("symbol").String(), tsMs, data.Get("price").Float(), data.Get("size").Float())
		case strings.HasPrefix(topic, "/market/ticker:"):
			if data.Get("bestBid").String() == "" || data.Get("bestAsk").String() == "" {
				return nil
			}
			sink.Book(models.MBookTop{
				Pair:    topic[strings.LastIndex(topic, ":")+1:],
				Bid:     data.Get("bestBid").Float(),
				Ask:     data.Get("bestAsk").Float(),
				BidSize: data.Get("bestBidSize").Float(),
				AskSize: data.Get("bestAskSize").Float(),
			})
		}
	}
	return nil
}
