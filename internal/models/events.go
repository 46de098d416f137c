package models

// KlinesBuildResult carries the candles that advanced after one trade was
// applied. TimeFrames lists only the frames present in Klines; a frame's
// absence means "not yet due", not an error.
type KlinesBuildResult struct {
	Symbol         string           `json:"symbol"`
	ExchangeMarket ExchangeMarket   `json:"exchangeMarket"`
	TimeFrames     []string         `json:"timeFrames"`
	Klines         map[string]OHLCV `json:"klines"`
}

// HistoryLoadRequest is one backfill job queued on the history loader.
type HistoryLoadRequest struct {
	// ReqID lets the requester recognize this job's completion among others.
	ReqID string `json:"reqId"`

	// Ticker is "exchange_market~symbol~timeframe".
	Ticker string `json:"ticker"`

	// ReferenceKlineTime is the kline open time (ms) from which the
	// backward load starts.
	ReferenceKlineTime int64 `json:"referenceKlineTime"`

	// Len is how many klines to load backwards from the reference time.
	Len int `json:"len"`
}

// LoadedHistory is the completion event for one HistoryLoadRequest.
type LoadedHistory struct {
	ReqID   string  `json:"reqId"`
	Ticker  string  `json:"ticker"`
	History []OHLCV `json:"history"`

	// Unbuildable means the requested time frame cannot be derived from
	// native candles on the target exchange; the caller must fall back to
	// trade-level reconstruction.
	Unbuildable bool `json:"unbuildable,omitempty"`

	// Err is set when the job gave up after exhausting its fetch retries.
	Err error `json:"-"`
}

// FKEvent notifies that a new time-frame bucket opened and the previous
// one is final.
type FKEvent struct {
	TimeFrame      string         `json:"tf"`
	Symbol         string         `json:"sym"`
	ExchangeMarket ExchangeMarket `json:"xm"`
	History        []OHLCV        `json:"history"`
}

// IKEvent notifies that the current, still-open bucket updated.
type IKEvent struct {
	TimeFrame      string         `json:"tf"`
	Symbol         string         `json:"sym"`
	ExchangeMarket ExchangeMarket `json:"xm"`
	History        []OHLCV        `json:"history"`
}
