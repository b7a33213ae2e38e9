package models

import (
	"encoding/json"
	"math"
	"time"
)

// MFeedSnapshot is one feed's contribution to an aggregation cycle.
type MFeedSnapshot struct {
	Feed             string        `json:"feed"`
	Price            float64       `json:"price"`
	Trades           int           `json:"trades"`
	EffectiveTrades  float64       `json:"effective_trades"`
	Weight           float64       `json:"weight"`
	VolumeCapped     bool          `json:"volume_capped"`
	WeightCapped     bool          `json:"weight_capped"`
	DeviationFlagged bool          `json:"deviation_flagged"`
	Metadata         MFeedMetadata `json:"metadata"`
}

// MAggregationCycle is the result of one PriceAggregator poll.
type MAggregationCycle struct {
	ID         string          `json:"id"`
	Timestamp  int64           `json:"timestamp"` // unix ms
	Price      float64         `json:"price"`     // NaN when too few feeds
	Method     string          `json:"method"`
	ValidFeeds int             `json:"valid_feeds"`
	TotalFeeds int             `json:"total_feeds"`
	Feeds      []MFeedSnapshot `json:"feeds"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MarshalJSON writes a NaN price as null; encoding/json rejects NaN.
func (c MAggregationCycle) MarshalJSON() ([]byte, error) {
	type plain MAggregationCycle
	out := struct {
		plain
		Price *float64 `json:"price"`
	}{plain: plain(c)}
	if !math.IsNaN(c.Price) {
		p := c.Price
		out.Price = &p
	}
	return json.Marshal(out)
}
