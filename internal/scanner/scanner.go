// Package scanner discovers tradable symbols matching a scan profile and
// brings new ones into the pipeline: kline building, trade watching and
// downstream notification.
package scanner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"candlescan/internal/exchange"
	"candlescan/internal/klines"
	"candlescan/internal/models"
	"candlescan/internal/watcher"
)

const (
	symbolsBufferLen = 16
	buildBufferLen   = 1024
)

// ErrConfigNotInitialized is returned by Start before SetConfig supplied
// a scan profile.
var ErrConfigNotInitialized = errors.New("scanner started without a scan profile")

// Scanner periodically lists an exchange market's instruments, filters
// them through the configured profile and onboards symbols it has not
// seen before.
type Scanner struct {
	logger  *logrus.Logger
	builder *klines.Builder
	watch   *watcher.Watcher

	adapters map[string]exchange.Adapter // exchange name -> adapter
	interval time.Duration

	mu               sync.Mutex
	started          bool
	config           models.ScannerConfig
	scanned          map[string]models.ExchangeSymbol // symbol ID -> symbol
	subscribers      []chan []models.ExchangeSymbol
	buildSubscribers []chan models.KlinesBuildResult

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScanner(adapters []exchange.Adapter, builder *klines.Builder, watch *watcher.Watcher, interval time.Duration, logger *logrus.Logger) *Scanner {
	byName := make(map[string]exchange.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Scanner{
		logger:   logger,
		builder:  builder,
		watch:    watch,
		adapters: byName,
		interval: interval,
		scanned:  make(map[string]models.ExchangeSymbol),
		stopChan: make(chan struct{}),
	}
}

// SetConfig replaces the active scan profile. Symbols onboarded under a
// previous profile keep streaming; only future rounds use the new one.
func (s *Scanner) SetConfig(cfg models.ScannerConfig) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	s.logger.Infof("Scan profile set: quote=%s market=%s max=%d", cfg.QuoteAsset, cfg.ExchangeMarket, cfg.MaxScannedAssets)
}

// Started reports whether Start has been called.
func (s *Scanner) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Config returns the active scan profile.
func (s *Scanner) Config() models.ScannerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SubscribeBuildResults registers a subscriber for the republished
// kline build-result stream.
func (s *Scanner) SubscribeBuildResults() <-chan models.KlinesBuildResult {
	ch := make(chan models.KlinesBuildResult, buildBufferLen)
	s.mu.Lock()
	s.buildSubscribers = append(s.buildSubscribers, ch)
	s.mu.Unlock()
	return ch
}

// SubscribeScannedSymbols registers a subscriber for each round's newly
// onboarded symbols, annotated in BASE/QUOTE form.
func (s *Scanner) SubscribeScannedSymbols() <-chan []models.ExchangeSymbol {
	ch := make(chan []models.ExchangeSymbol, symbolsBufferLen)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Start runs one scan immediately, then rescans on the configured
// interval, and launches the build pump that turns the watched trade
// stream into the republished build-result stream.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.config.QuoteAsset == "" {
		s.mu.Unlock()
		return ErrConfigNotInitialized
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()

		s.Scan(context.Background())

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Scan(context.Background())
			}
		}
	}()
	go s.pumpBuildResults()
	s.logger.Info("🔍 Symbol scanner started")
	return nil
}

// pumpBuildResults feeds every watched trade through the kline builder
// and republishes results that advanced at least one time frame, with
// the symbol re-annotated in the canonical "BASE/QUOTE" form.
func (s *Scanner) pumpBuildResults() {
	defer s.wg.Done()

	updates := s.watch.SubscribeTradesUpdates()
	for {
		select {
		case <-s.stopChan:
			return
		case update := <-updates:
			result := s.builder.BuildKlines(update.Trade, update.ExchangeMarket)
			if len(result.TimeFrames) == 0 {
				continue
			}

			s.mu.Lock()
			quote := s.config.QuoteAsset
			subscribers := s.buildSubscribers
			s.mu.Unlock()

			result.Symbol = models.SlashSymbol(result.Symbol, quote)
			for _, ch := range subscribers {
				select {
				case ch <- result:
				default:
					s.logger.Debugf("Dropping build result for %s, subscriber buffer full", result.Symbol)
				}
			}
		}
	}
}

func (s *Scanner) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// ScannedSymbols returns every symbol onboarded so far.
func (s *Scanner) ScannedSymbols() []models.ExchangeSymbol {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]models.ExchangeSymbol, 0, len(s.scanned))
	for _, sym := range s.scanned {
		symbols = append(symbols, sym)
	}
	return symbols
}

// Scan runs one discovery round. Re-running with an unchanged universe
// onboards nothing.
func (s *Scanner) Scan(ctx context.Context) {
	s.mu.Lock()
	cfg := s.config
	scannedCount := len(s.scanned)
	s.mu.Unlock()

	if cfg.QuoteAsset == "" {
		s.logger.Debug("No scan profile configured, skipping round")
		return
	}

	exchangeName := "bybit"
	if cfg.ExchangeMarket.IsBinance() {
		exchangeName = "binance"
	}
	adapter, ok := s.adapters[exchangeName]
	if !ok {
		s.logger.Warnf("No adapter registered for %s, skipping scan", cfg.ExchangeMarket)
		return
	}

	instruments, err := adapter.ListInstruments(ctx, cfg.ExchangeMarket)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list instruments")
		return
	}

	scannable := filterInstruments(instruments, cfg)
	if cfg.MaxScannedAssets > 0 && len(scannable) > cfg.MaxScannedAssets {
		scannable = scannable[len(scannable)-cfg.MaxScannedAssets:]
	}
	if cfg.MaxScannedAssets > 0 && len(scannable)+scannedCount > cfg.MaxScannedAssets {
		s.logger.Warnf("Scan round rejected: %d scannable + %d already scanned exceeds max %d",
			len(scannable), scannedCount, cfg.MaxScannedAssets)
		return
	}

	fresh := s.onboard(scannable, cfg)
	if len(fresh) == 0 {
		s.logger.Debugf("Scan round found no new symbols among %d scannable", len(scannable))
		return
	}

	s.builder.InitializeSymbolsBuildStartTimes(fresh)
	go s.watch.WatchTrades(fresh)

	s.publish(annotate(fresh))
	s.logger.Infof("🆕 Onboarded %d new symbol(s) on %s", len(fresh), cfg.ExchangeMarket)
}

// onboard records the not-yet-seen symbols and returns them with the
// profile's time frames attached.
func (s *Scanner) onboard(scannable []models.ExchangeSymbol, cfg models.ScannerConfig) []models.ExchangeSymbol {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []models.ExchangeSymbol
	for _, sym := range scannable {
		if _, seen := s.scanned[sym.ID()]; seen {
			continue
		}
		sym.TimeFrames = cfg.TimeFrames
		s.scanned[sym.ID()] = sym
		fresh = append(fresh, sym)
	}
	return fresh
}

func (s *Scanner) publish(symbols []models.ExchangeSymbol) {
	s.mu.Lock()
	subscribers := s.subscribers
	s.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- symbols:
		default:
			s.logger.Warn("Dropping scanned symbols update, subscriber buffer full")
		}
	}
}

// filterInstruments applies the profile: quote asset match, base-asset
// blacklist, leveraged-token suffix exclusion and optional whitelist.
func filterInstruments(instruments []models.ExchangeSymbol, cfg models.ScannerConfig) []models.ExchangeSymbol {
	blacklist := upperSet(cfg.Blacklist)
	whitelist := upperSet(cfg.Whitelist)

	var out []models.ExchangeSymbol
	for _, inst := range instruments {
		if !strings.EqualFold(inst.QuoteAsset, cfg.QuoteAsset) {
			continue
		}
		base := strings.ToUpper(inst.BaseAsset)
		if _, banned := blacklist[base]; banned {
			continue
		}
		if strings.HasSuffix(base, "UP") || strings.HasSuffix(base, "DOWN") {
			continue
		}
		if len(whitelist) > 0 {
			if _, wanted := whitelist[base]; !wanted {
				continue
			}
		}
		out = append(out, inst)
	}
	return out
}

// annotate returns copies suitable for external consumers, without the
// internal time-frame list.
func annotate(symbols []models.ExchangeSymbol) []models.ExchangeSymbol {
	out := make([]models.ExchangeSymbol, len(symbols))
	for i, sym := range symbols {
		out[i] = models.ExchangeSymbol{
			BaseAsset:      sym.BaseAsset,
			QuoteAsset:     sym.QuoteAsset,
			ExchangeMarket: sym.ExchangeMarket,
		}
	}
	return out
}

func upperSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[strings.ToUpper(item)] = struct{}{}
	}
	return set
}
