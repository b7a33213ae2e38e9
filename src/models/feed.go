package models

// -----------------------------------------------------------------------------
// Feed state exchanged between oracles, aggregator and control surfaces
// -----------------------------------------------------------------------------

// MFeedMetadata accompanies every computed feed price.
type MFeedMetadata struct {
	Stale    bool    `json:"stale"`
	Window   float64 `json:"window"` // seconds
	Trades   int     `json:"trades"`
	Startup  bool    `json:"startup"`
	Degraded bool    `json:"degraded,omitempty"`
	Ts       int64   `json:"ts"`
}

// MFeedParameters is a partial update; nil fields are left unchanged.
type MFeedParameters struct {
	WindowSec        *float64 `json:"window_sec,omitempty"`
	StartupWindowSec *float64 `json:"startup_window_sec,omitempty"`
	MinNotional      *float64 `json:"min_notional,omitempty"`
}

// MFeedStatus is the externally visible state of one feed.
type MFeedStatus struct {
	Name             string   `json:"name"`
	Exchange         string   `json:"exchange"`
	Pairs            []string `json:"pairs"`
	IsRunning        bool     `json:"is_running"`
	Started          bool     `json:"started"`
	WindowSec        float64  `json:"window_sec"`
	StartupWindowSec float64  `json:"startup_window_sec"`
	MinNotional      float64  `json:"min_notional"`
	UsdtUsdRate      *float64 `json:"usdt_usd_rate"` // nil until known
	Trades           int      `json:"trades"`
	Reconnects       int64    `json:"reconnects"`
}

// MBookTop is the top of book of one pair.
type MBookTop struct {
	Pair    string  `json:"pair"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	BidSize float64 `json:"bid_size"`
	AskSize float64 `json:"ask_size"`
}
