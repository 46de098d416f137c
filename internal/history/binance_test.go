package history

import (
	"context"
	"sync/atomic"
	"testing"

	"candlescan/internal/models"
)

// fakeBinanceClient serves scripted kline and trade pages.
type fakeBinanceClient struct {
	klinePages [][]models.OHLCV
	tradePages [][]models.Trade
	klineCalls int
	tradeCalls int
}

func (f *fakeBinanceClient) FetchKlines(context.Context, string, string, int64, int, models.ExchangeMarket) ([]models.OHLCV, error) {
	if f.klineCalls >= len(f.klinePages) {
		return nil, nil
	}
	page := f.klinePages[f.klineCalls]
	f.klineCalls++
	return page, nil
}

func (f *fakeBinanceClient) FetchAggTrades(context.Context, string, int64, int64, int) ([]models.Trade, int64, error) {
	if f.tradeCalls >= len(f.tradePages) {
		return nil, 0, nil
	}
	page := f.tradePages[f.tradeCalls]
	f.tradeCalls++
	var lastID int64
	if len(page) > 0 {
		lastID = int64(f.tradeCalls * 1000)
	}
	return page, lastID, nil
}

func (f *fakeBinanceClient) UsedWeight() int { return 0 }

func TestBinanceLoadAggregatesNativePages(t *testing.T) {
	const minuteMs = int64(60_000)
	base := int64(1_700_000_040_000) // multiple of 2m

	native := func(openTime int64, close float64) models.OHLCV {
		return models.NewOHLCV(openTime, close, close+1, close-1, close, 1)
	}
	fake := &fakeBinanceClient{klinePages: [][]models.OHLCV{{
		native(base, 10),
		native(base+minuteMs, 11),
		native(base+2*minuteMs, 12),
		native(base+3*minuteMs, 13),
	}}}
	b := &BinanceBackend{adapter: fake, logger: quietLogger()}

	out, err := b.Load(context.Background(), "BTCUSDT", "2m", base, base+4*minuteMs, models.BinanceSpot)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d buckets, want 2", len(out))
	}
	if out[0].OpenTime() != base || out[1].OpenTime() != base+2*minuteMs {
		t.Errorf("buckets misaligned: %v", out)
	}
	if out[1].Open() != 12 || out[1].Close() != 13 || out[1].Volume() != 2 {
		t.Errorf("second bucket wrong: %v", out[1])
	}
}

func TestBinanceLoadSecondsWithoutCoverageIsUnbuildable(t *testing.T) {
	fake := &fakeBinanceClient{} // no 1s klines exist for the range
	b := &BinanceBackend{adapter: fake, logger: quietLogger()}

	_, err := b.Load(context.Background(), "BTCUSDT", "15s", 1_500_000_000_000, 1_500_000_600_000, models.BinanceSpot)
	if err != ErrUnbuildable {
		t.Fatalf("Load = %v, want ErrUnbuildable", err)
	}
}

func TestBinanceLoadTradesTrimsAtEndTime(t *testing.T) {
	base := int64(1_700_000_040_000)
	trade := func(ts int64) models.Trade {
		return models.Trade{Symbol: "BTCUSDT", Timestamp: ts, Price: 100, Amount: 1}
	}
	fake := &fakeBinanceClient{tradePages: [][]models.Trade{{
		trade(base),
		trade(base + 1_000),
		trade(base + 10_000), // past endTime
	}}}
	b := &BinanceBackend{adapter: fake, logger: quietLogger()}

	var abort atomic.Bool
	trades, err := b.LoadTrades(context.Background(), "BTCUSDT", base, base+5_000, &abort)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[1].Timestamp != base+1_000 {
		t.Errorf("last kept trade at %d, want %d", trades[1].Timestamp, base+1_000)
	}
}
