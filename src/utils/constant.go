package utils

import "time"

// -----------------------------------------------------------------------------

// Oracle timing constants.
const (
	// StaleAfterMs flags a feed whose last trade is older than this.
	StaleAfterMs = 5000

	// OutlierDeviation is the VWAP/median gap that triggers trimming.
	OutlierDeviation = 0.03

	// OutlierMinTrades is the trade count above which trimming may apply.
	OutlierMinTrades = 4

	DefaultRetentionDays = 7
)

// Reconnect jitter for exchange websockets: base + rand[0, spread).
const (
	ReconnectBase   = 2 * time.Second
	ReconnectSpread = 3 * time.Second
)

// -----------------------------------------------------------------------------

// NowMs returns t as unix milliseconds.
func NowMs(t time.Time) int64 {
	return t.UnixMilli()
}
