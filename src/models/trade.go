package models

// MTrade is a single accepted trade, price already normalised to USD.
type MTrade struct {
	Timestamp int64   `json:"ts"` // unix ms
	Price     float64 `json:"price"`
	Quantity  float64 `json:"qty"`
}
