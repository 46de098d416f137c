package models

import (
	"fmt"
	"strings"
)

// ExchangeMarket identifies one exchange plus market category.
type ExchangeMarket string

const (
	BinanceSpot ExchangeMarket = "binance_spot"
	BybitSpot   ExchangeMarket = "bybit_spot"
	BybitLinear ExchangeMarket = "bybit_linear"
)

func (xm ExchangeMarket) IsBinance() bool { return strings.HasPrefix(string(xm), "binance_") }
func (xm ExchangeMarket) IsBybit() bool   { return strings.HasPrefix(string(xm), "bybit_") }

func (xm ExchangeMarket) IsBybitLinear() bool { return xm == BybitLinear }

// ExchangeSymbol identifies one tradable instrument and the time frames
// the pipeline must build for it.
type ExchangeSymbol struct {
	BaseAsset      string         `json:"baseAsset"`
	QuoteAsset     string         `json:"quoteAsset"`
	ExchangeMarket ExchangeMarket `json:"exchangeMarket"`
	TimeFrames     []string       `json:"timeFrames,omitempty"`
}

// ID returns the exchange-native symbol, e.g. "BTCUSDT".
func (s ExchangeSymbol) ID() string {
	return s.BaseAsset + s.QuoteAsset
}

// Slash returns the canonical external form, e.g. "BTC/USDT".
func (s ExchangeSymbol) Slash() string {
	return s.BaseAsset + "/" + s.QuoteAsset
}

// RemoveSymbolSlash strips the slash from a "BASE/QUOTE" symbol, giving
// back the exchange-native form.
func RemoveSymbolSlash(sym string) string {
	return strings.ReplaceAll(sym, "/", "")
}

// SlashSymbol annotates an exchange-native symbol with the canonical
// "BASE/QUOTE" separator, e.g. "BTCUSDT" -> "BTC/USDT". Symbols not
// ending in the quote asset are returned unchanged.
func SlashSymbol(sym, quoteAsset string) string {
	if quoteAsset == "" || len(sym) <= len(quoteAsset) || !strings.HasSuffix(sym, quoteAsset) {
		return sym
	}
	return sym[:len(sym)-len(quoteAsset)] + "/" + quoteAsset
}

// Ticker composes the history-load ticker format "exchange~symbol~timeframe".
func Ticker(xm ExchangeMarket, symbol, tf string) string {
	return fmt.Sprintf("%s~%s~%s", xm, symbol, tf)
}

// SplitTicker is the inverse of Ticker.
func SplitTicker(ticker string) (xm ExchangeMarket, symbol, tf string, err error) {
	parts := strings.Split(ticker, "~")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed ticker %q", ticker)
	}
	return ExchangeMarket(parts[0]), parts[1], parts[2], nil
}
