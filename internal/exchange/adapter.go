// Package exchange wraps the per-exchange REST and streaming clients
// behind one adapter capability set: list tradable instruments, subscribe
// to raw trade topics, fetch kline and trade pages.
package exchange

import (
	"context"

	"candlescan/internal/models"
)

// TradeHandler receives every canonical trade an adapter decodes from its
// stream. Handlers must be fast; adapters call them inline.
type TradeHandler func(trade models.Trade)

// ReconnectHandler is notified each time an adapter's stream reconnects,
// with a key identifying the affected connection.
type ReconnectHandler func(connectionKey string)

// Adapter is the capability set one exchange exposes to the pipeline.
type Adapter interface {
	// Name returns the exchange name, e.g. "binance".
	Name() string

	// ListInstruments returns all currently tradable instruments on the
	// given market.
	ListInstruments(ctx context.Context, xm models.ExchangeMarket) ([]models.ExchangeSymbol, error)

	// SubscribeTrades opens one live trade-topic subscription for the
	// exchange-native symbol. Decoded trades flow to the registered
	// TradeHandler. Subscriptions are never retried here; stream-level
	// reconnection is the adapter's own concern and is reported through
	// the ReconnectHandler.
	SubscribeTrades(symbol string, xm models.ExchangeMarket) error

	// OnTrade registers the single trade handler.
	OnTrade(h TradeHandler)

	// OnReconnect registers the single reconnection handler.
	OnReconnect(h ReconnectHandler)

	// FetchKlines fetches one page of native-resolution candles starting
	// at startTime (ms), oldest first.
	FetchKlines(ctx context.Context, symbol, nativeResolution string, startTime int64, limit int, xm models.ExchangeMarket) ([]models.OHLCV, error)
}
