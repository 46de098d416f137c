package history

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"candlescan/internal/exchange"
	"candlescan/internal/metrics"
	"candlescan/internal/models"
)

const (
	binancePageLimit = 1000

	// Binance allows 1200 request weight per minute per IP. Paging stops
	// short of the ceiling and waits the window out.
	binanceWeightCeiling = 1195
	binanceWeightCooloff = 30 * time.Second

	binanceTradesPageLimit = 1000
)

// binanceClient is the slice of the Binance adapter the backend pages
// through.
type binanceClient interface {
	FetchKlines(ctx context.Context, symbol, nativeResolution string, startTime int64, limit int, xm models.ExchangeMarket) ([]models.OHLCV, error)
	FetchAggTrades(ctx context.Context, symbol string, fromID, startTime int64, limit int) ([]models.Trade, int64, error)
	UsedWeight() int
}

// BinanceBackend pages historical klines and aggregated trades out of
// the Binance REST API under the per-minute weight budget.
type BinanceBackend struct {
	adapter binanceClient
	logger  *logrus.Logger
}

var _ TradeBackend = (*BinanceBackend)(nil)

func NewBinanceBackend(adapter *exchange.Binance, logger *logrus.Logger) *BinanceBackend {
	return &BinanceBackend{adapter: adapter, logger: logger}
}

// Load fetches native candles covering [targetTime, endTime) and returns
// them aggregated to the requested time frame, oldest first.
func (b *BinanceBackend) Load(ctx context.Context, symbol, tf string, targetTime, endTime int64, xm models.ExchangeMarket) ([]models.OHLCV, error) {
	plan, err := planFor(tf, xm)
	if err != nil {
		return nil, err
	}

	var native []models.OHLCV
	cursor := targetTime
	for cursor < endTime {
		if err := b.respectWeightBudget(ctx); err != nil {
			return nil, err
		}

		page, err := b.adapter.FetchKlines(ctx, symbol, plan.nativeResolution, cursor, binancePageLimit, xm)
		if err != nil {
			return nil, err
		}
		metrics.BackfillPagesFetched.WithLabelValues("binance").Inc()
		if len(page) == 0 {
			break
		}

		native = append(native, page...)
		cursor = page[len(page)-1].OpenTime() + plan.nativeMs
	}

	// Binance serves 1s klines only for a recent window; a range before
	// it comes back empty and must be rebuilt from aggregated trades.
	if len(native) == 0 && plan.nativeResolution == "1s" {
		return nil, ErrUnbuildable
	}

	return finalizeNative(native, plan, endTime), nil
}

func (b *BinanceBackend) respectWeightBudget(ctx context.Context) error {
	for b.adapter.UsedWeight() >= binanceWeightCeiling {
		b.logger.Warnf("Binance request weight at %d, cooling off for %s", b.adapter.UsedWeight(), binanceWeightCooloff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(binanceWeightCooloff):
		}
	}
	return nil
}

// LoadTrades pages aggregated trades covering [startTime, endTime),
// oldest first, following the aggTradeId cursor. An abort flag set by
// the caller stops paging early with whatever was collected.
func (b *BinanceBackend) LoadTrades(ctx context.Context, symbol string, startTime, endTime int64, abort *atomic.Bool) ([]models.Trade, error) {
	var collected []models.Trade
	err := b.LoadTradesChunked(ctx, symbol, startTime, endTime, abort, func(chunk []models.Trade) error {
		collected = append(collected, chunk...)
		return nil
	})
	return collected, err
}

// LoadTradesChunked streams aggregated-trade pages to fn instead of
// accumulating them, keeping memory flat for long ranges. fn returning
// an error stops paging.
func (b *BinanceBackend) LoadTradesChunked(ctx context.Context, symbol string, startTime, endTime int64, abort *atomic.Bool, fn func([]models.Trade) error) error {
	var fromID int64
	for {
		if abort != nil && abort.Load() {
			return nil
		}
		if err := b.respectWeightBudget(ctx); err != nil {
			return err
		}

		page, lastID, err := b.adapter.FetchAggTrades(ctx, symbol, fromID, startTime, binanceTradesPageLimit)
		if err != nil {
			return err
		}
		metrics.BackfillPagesFetched.WithLabelValues("binance").Inc()
		if len(page) == 0 {
			return nil
		}

		chunk := page[:0:0]
		done := false
		for _, t := range page {
			if t.Timestamp >= endTime {
				done = true
				break
			}
			chunk = append(chunk, t)
		}
		if len(chunk) > 0 {
			if err := fn(chunk); err != nil {
				return err
			}
		}
		if done || len(page) < binanceTradesPageLimit {
			return nil
		}
		fromID = lastID + 1
	}
}
