package models

// SymbolHistory is the rolling candle window for one (symbol, time frame).
// History is ordered oldest to newest and never exceeds the configured
// history length. Loaded/Loading transition monotonically:
// (false,false) -> loading -> loaded.
type SymbolHistory struct {
	TimeFrame string  `json:"tf"`
	History   []OHLCV `json:"history"`
	Loaded    bool    `json:"loaded"`
	Loading   bool    `json:"loading"`
}

// SymbolState is the full tracked state of one symbol.
type SymbolState struct {
	Symbol    string                    `json:"symbol"`
	Histories map[string]*SymbolHistory `json:"histories"`
}

// ScannerConfig is supplied once through the scanner's start operation and
// is immutable afterwards.
type ScannerConfig struct {
	QuoteAsset       string         `json:"quoteAsset" yaml:"quoteAsset"`
	TimeFrames       []string       `json:"timeFrames" yaml:"timeFrames"`
	MaxScannedAssets int            `json:"maxScannedAssets" yaml:"maxScannedAssets"`
	Blacklist        []string       `json:"blacklist" yaml:"blacklist"`
	Whitelist        []string       `json:"whitelist" yaml:"whitelist"`
	ExchangeMarket   ExchangeMarket `json:"exchangeMarket" yaml:"exchangeMarket"`
}

// SSMConfig configures the symbols state manager.
type SSMConfig struct {
	TimeFrames []string `json:"timeFrames" yaml:"timeFrames"`
	Whitelist  []string `json:"whitelist" yaml:"whitelist"`
	Blacklist  []string `json:"blacklist" yaml:"blacklist"`
	HistoryLen int      `json:"historyLen" yaml:"historyLen"`
}
