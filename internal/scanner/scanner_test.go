package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"candlescan/internal/exchange"
	"candlescan/internal/klines"
	"candlescan/internal/models"
	"candlescan/internal/watcher"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeAdapter serves a fixed instrument universe, records subscriptions
// and lets tests inject trades into the registered handler.
type fakeAdapter struct {
	mu          sync.Mutex
	instruments []models.ExchangeSymbol
	subscribed  []string
	onTrade     exchange.TradeHandler
}

func (f *fakeAdapter) Name() string { return "binance" }

func (f *fakeAdapter) ListInstruments(context.Context, models.ExchangeMarket) ([]models.ExchangeSymbol, error) {
	return f.instruments, nil
}

func (f *fakeAdapter) SubscribeTrades(symbol string, _ models.ExchangeMarket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, symbol)
	return nil
}

func (f *fakeAdapter) OnTrade(h exchange.TradeHandler) {
	f.mu.Lock()
	f.onTrade = h
	f.mu.Unlock()
}

func (f *fakeAdapter) OnReconnect(exchange.ReconnectHandler) {}

func (f *fakeAdapter) subscribedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func (f *fakeAdapter) emitTrade(trade models.Trade) {
	f.mu.Lock()
	h := f.onTrade
	f.mu.Unlock()
	if h != nil {
		h(trade)
	}
}

func (f *fakeAdapter) FetchKlines(context.Context, string, string, int64, int, models.ExchangeMarket) ([]models.OHLCV, error) {
	return nil, nil
}

func instrument(base, quote string) models.ExchangeSymbol {
	return models.ExchangeSymbol{BaseAsset: base, QuoteAsset: quote, ExchangeMarket: models.BinanceSpot}
}

func newTestScanner(adapter *fakeAdapter) (*Scanner, *klines.Builder) {
	logger := quietLogger()
	builder := klines.NewBuilder(logger)
	governor := watcher.NewGovernor(logger)
	watch := watcher.NewWatcher([]exchange.Adapter{adapter}, governor, logger)
	return NewScanner([]exchange.Adapter{adapter}, builder, watch, time.Hour, logger), builder
}

func TestFilterInstruments(t *testing.T) {
	instruments := []models.ExchangeSymbol{
		instrument("BTC", "USDT"),
		instrument("ETH", "USDT"),
		instrument("BTC", "BUSD"),
		instrument("BTCUP", "USDT"),
		instrument("ETHDOWN", "USDT"),
		instrument("SCAM", "USDT"),
	}

	t.Run("quote and suffix filtering", func(t *testing.T) {
		got := filterInstruments(instruments, models.ScannerConfig{
			QuoteAsset: "usdt",
			Blacklist:  []string{"scam"},
		})
		if len(got) != 2 {
			t.Fatalf("got %d instruments, want 2: %v", len(got), got)
		}
		if got[0].BaseAsset != "BTC" || got[1].BaseAsset != "ETH" {
			t.Errorf("unexpected filter result: %v", got)
		}
	})

	t.Run("whitelist intersects", func(t *testing.T) {
		got := filterInstruments(instruments, models.ScannerConfig{
			QuoteAsset: "USDT",
			Whitelist:  []string{"eth"},
		})
		if len(got) != 1 || got[0].BaseAsset != "ETH" {
			t.Errorf("whitelist should keep only ETH, got %v", got)
		}
	})
}

func TestScanOnboardsOnlyNewSymbols(t *testing.T) {
	adapter := &fakeAdapter{instruments: []models.ExchangeSymbol{
		instrument("BTC", "USDT"),
		instrument("ETH", "USDT"),
	}}
	s, builder := newTestScanner(adapter)
	s.SetConfig(models.ScannerConfig{
		QuoteAsset:       "USDT",
		TimeFrames:       []string{"5m"},
		MaxScannedAssets: 10,
		ExchangeMarket:   models.BinanceSpot,
	})
	updates := s.SubscribeScannedSymbols()

	s.Scan(context.Background())

	select {
	case scanned := <-updates:
		if len(scanned) != 2 {
			t.Fatalf("got %d scanned symbols, want 2", len(scanned))
		}
	case <-time.After(time.Second):
		t.Fatal("no scanned symbols published")
	}

	if got := len(builder.TrackedSymbols()); got != 2 {
		t.Errorf("builder tracks %d symbols, want 2", got)
	}

	// A second round over the same universe onboards nothing.
	s.Scan(context.Background())
	select {
	case scanned := <-updates:
		t.Fatalf("second round should publish nothing, got %v", scanned)
	case <-time.After(50 * time.Millisecond):
	}

	if got := len(s.ScannedSymbols()); got != 2 {
		t.Errorf("scanned set = %d symbols, want 2", got)
	}
}

func TestScanRejectsOversizedRound(t *testing.T) {
	adapter := &fakeAdapter{instruments: []models.ExchangeSymbol{
		instrument("BTC", "USDT"),
		instrument("ETH", "USDT"),
		instrument("SOL", "USDT"),
	}}
	s, _ := newTestScanner(adapter)
	s.SetConfig(models.ScannerConfig{
		QuoteAsset:       "USDT",
		TimeFrames:       []string{"5m"},
		MaxScannedAssets: 2,
		ExchangeMarket:   models.BinanceSpot,
	})

	// The universe is capped to the newest max entries.
	s.Scan(context.Background())
	if got := len(s.ScannedSymbols()); got != 2 {
		t.Fatalf("scanned set = %d symbols, want 2", got)
	}

	// With the budget consumed, a changed universe is rejected wholesale.
	adapter.instruments = append(adapter.instruments, instrument("ADA", "USDT"))
	s.Scan(context.Background())
	if got := len(s.ScannedSymbols()); got != 2 {
		t.Errorf("oversized round should onboard nothing, scanned set = %d", got)
	}
}

func TestRepublishedResultsCarryAnnotatedSymbol(t *testing.T) {
	adapter := &fakeAdapter{instruments: []models.ExchangeSymbol{
		instrument("BTC", "USDT"),
	}}
	s, _ := newTestScanner(adapter)
	s.SetConfig(models.ScannerConfig{
		QuoteAsset:       "USDT",
		TimeFrames:       []string{"5m"},
		MaxScannedAssets: 10,
		ExchangeMarket:   models.BinanceSpot,
	})
	builds := s.SubscribeBuildResults()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	// Wait for the watcher to open the symbol's trade subscription.
	deadline := time.Now().Add(2 * time.Second)
	for adapter.subscribedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("symbol never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Far enough ahead that every deferred build start has passed.
	adapter.emitTrade(models.Trade{
		Symbol:    "BTCUSDT",
		Timestamp: time.Now().Add(time.Hour).UnixMilli(),
		Price:     100,
		Amount:    1,
	})

	select {
	case result := <-builds:
		if result.Symbol != "BTC/USDT" {
			t.Errorf("republished symbol = %q, want %q", result.Symbol, "BTC/USDT")
		}
	case <-time.After(time.Second):
		t.Fatal("no build result republished")
	}
}

func TestScannerStartRequiresConfig(t *testing.T) {
	adapter := &fakeAdapter{}
	s, _ := newTestScanner(adapter)

	if err := s.Start(); err != ErrConfigNotInitialized {
		t.Fatalf("Start without config = %v, want ErrConfigNotInitialized", err)
	}
	if s.Started() {
		t.Error("failed Start should not flip the started flag")
	}

	s.SetConfig(models.ScannerConfig{QuoteAsset: "USDT", ExchangeMarket: models.BinanceSpot})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if !s.Started() {
		t.Error("scanner should report started after Start")
	}
}
