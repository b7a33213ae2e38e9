package models

// -----------------------------------------------------------------------------
// Server State Structure
// -----------------------------------------------------------------------------

type MLatestData struct {
	Type              string             `json:"type"` // "INITIAL" or "UPDATE"
	Price             *float64           `json:"price"` // nil while no valid aggregate exists
	Cycle             *MAggregationCycle `json:"cycle,omitempty"`
	UsdtUsdRate       *float64           `json:"usdt_usd_rate"`
	Timestamp         int64              `json:"timestamp"`
	ProcessingMetrics MProcessingMetrics `json:"processing_metrics"`
}

// -----------------------------------------------------------------------------
// SubscribeCommand for client messages
// -----------------------------------------------------------------------------

type MSubscribeCommand struct {
	Command string   `json:"command"`
	Feeds   []string `json:"feeds"`
}
