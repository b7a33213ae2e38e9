package models

// MProcessingMetrics represents the timings of the aggregation loop.
type MProcessingMetrics struct {
	AggregationTimeSeconds float64 `json:"aggregation_time_seconds"`
	ValidFeeds             int     `json:"valid_feeds"`
	FeedsPolled            int     `json:"feeds_polled"`
}
