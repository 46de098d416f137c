package history

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"candlescan/internal/exchange"
	"candlescan/internal/klines"
	"candlescan/internal/metrics"
	"candlescan/internal/models"
)

const bybitPageLimit = 200

// ErrTradeBackfillUnsupported is returned for exchanges whose public API
// offers no historical trade pagination usable for backfills.
var ErrTradeBackfillUnsupported = errors.New("historical trade backfill is not supported on this exchange")

// BybitBackend pages historical klines out of the Bybit v5 REST API.
// Request pacing is handled by the adapter's limiter.
type BybitBackend struct {
	adapter *exchange.Bybit
	logger  *logrus.Logger
}

func NewBybitBackend(adapter *exchange.Bybit, logger *logrus.Logger) *BybitBackend {
	return &BybitBackend{adapter: adapter, logger: logger}
}

// Load fetches native candles covering [targetTime, endTime) and returns
// them aggregated to the requested time frame, oldest first.
//
// Bybit's start parameter is inclusive, so each page can repeat the
// previous cursor row; paging stops when a page makes no forward
// progress.
func (b *BybitBackend) Load(ctx context.Context, symbol, tf string, targetTime, endTime int64, xm models.ExchangeMarket) ([]models.OHLCV, error) {
	plan, err := planFor(tf, xm)
	if err != nil {
		return nil, err
	}

	var native []models.OHLCV
	cursor := targetTime
	for cursor < endTime {
		page, err := b.adapter.FetchKlines(ctx, symbol, plan.nativeResolution, cursor, bybitPageLimit, xm)
		if err != nil {
			return nil, err
		}
		metrics.BackfillPagesFetched.WithLabelValues("bybit").Inc()
		if len(page) == 0 {
			break
		}

		progressed := false
		for _, k := range page {
			if len(native) > 0 && k.OpenTime() <= native[len(native)-1].OpenTime() {
				continue
			}
			native = append(native, k)
			progressed = true
		}
		if !progressed {
			break
		}
		cursor = native[len(native)-1].OpenTime() + plan.nativeMs
	}

	return finalizeNative(native, plan, endTime), nil
}

// finalizeNative drops rows at or past endTime and aggregates the rest
// to the target resolution. Zero-trade native buckets are filled first;
// resampling chunks by index and a hole would shift every later bucket
// off the target grid.
func finalizeNative(native []models.OHLCV, plan fetchPlan, endTime int64) []models.OHLCV {
	trimmed := native
	for len(trimmed) > 0 && trimmed[len(trimmed)-1].OpenTime() >= endTime {
		trimmed = trimmed[:len(trimmed)-1]
	}
	trimmed = klines.FillMissingMs(trimmed, plan.nativeMs)
	return klines.Resample(trimmed, plan.factor)
}
