package models

// Trade is one canonical, exchange-agnostic trade tick. Trade Watchers
// create these from exchange-specific wire messages; the kline builder
// and the history backends consume them.
type Trade struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"` // ms
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
}
