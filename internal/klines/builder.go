package klines

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"candlescan/internal/metrics"
	"candlescan/internal/models"
	"candlescan/internal/timeframe"
)

// Builder incrementally maintains one reference kline per
// (symbol, time frame) and advances it trade by trade.
type Builder struct {
	logger *logrus.Logger

	mu sync.Mutex
	// symbol -> tf -> reference kline (nil until the first eligible trade)
	referenceKlines map[string]map[string]*models.OHLCV
	// symbol -> tf -> ms timestamp before which trades are ignored
	buildStartTimes map[string]map[string]int64

	now func() time.Time
}

// NewBuilder creates an empty kline builder.
func NewBuilder(logger *logrus.Logger) *Builder {
	return &Builder{
		logger:          logger,
		referenceKlines: make(map[string]map[string]*models.OHLCV),
		buildStartTimes: make(map[string]map[string]int64),
		now:             time.Now,
	}
}

// InitializeSymbolsBuildStartTimes registers symbols for building and
// defers each (symbol, tf) build start to a future bucket boundary, so
// that building never begins inside a partially elapsed bucket. Must only
// be called with symbols not registered before; re-initializing a tracked
// symbol would reset its in-flight candle state.
func (b *Builder) InitializeSymbolsBuildStartTimes(symbols []models.ExchangeSymbol) {
	b.mu.Lock()
	defer b.mu.Unlock()

	nowMs := b.now().UnixMilli()
	for _, sym := range symbols {
		id := sym.ID()
		b.referenceKlines[id] = make(map[string]*models.OHLCV, len(sym.TimeFrames))
		b.buildStartTimes[id] = make(map[string]int64, len(sym.TimeFrames))

		for _, tf := range sym.TimeFrames {
			deferred, err := timeframe.NthNextOpenTime(nowMs, tf, startTimeMultiplier(tf))
			if err != nil {
				b.logger.WithError(err).Warnf("Skipping unparseable time frame %q for %s", tf, id)
				continue
			}

			b.buildStartTimes[id][tf] = deferred
			b.referenceKlines[id][tf] = nil
			b.logger.Debugf("%s-%s build deferred until %s", id, tf, time.UnixMilli(deferred).Format(time.RFC3339))
		}
	}
}

// startTimeMultiplier picks how many whole buckets to skip before building
// begins. Very short frames defer further: their buckets are cheap to skip
// and the first partially observed one would be badly distorted.
func startTimeMultiplier(tf string) int {
	meta, err := timeframe.Parse(tf)
	if err != nil {
		return 1
	}
	if meta.Unit == "s" && meta.Amount <= 15 {
		return 10
	}
	if meta.Unit == "m" && meta.Amount <= 5 {
		return 2
	}
	return 1
}

// BuildKlines applies one trade to every registered time frame of its
// symbol whose build start has passed. The result lists only the frames
// that actually advanced; absence of a frame means "not yet due".
func (b *Builder) BuildKlines(trade models.Trade, xm models.ExchangeMarket) models.KlinesBuildResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := models.KlinesBuildResult{
		Symbol:         trade.Symbol,
		ExchangeMarket: xm,
		Klines:         make(map[string]models.OHLCV),
	}

	refs, ok := b.referenceKlines[trade.Symbol]
	if !ok {
		return result
	}

	for tf, ref := range refs {
		if b.buildStartTimes[trade.Symbol][tf] > trade.Timestamp {
			continue
		}

		built, err := Build(trade, tf, ref)
		if err != nil {
			b.logger.WithError(err).Warnf("Failed to build %s kline for %s", tf, trade.Symbol)
			continue
		}

		k := built
		refs[tf] = &k
		result.Klines[tf] = built
		result.TimeFrames = append(result.TimeFrames, tf)
		metrics.KlinesBuilt.WithLabelValues(string(xm), tf).Inc()
	}

	return result
}

// TrackedSymbols returns the symbols currently registered for building.
func (b *Builder) TrackedSymbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	symbols := make([]string, 0, len(b.referenceKlines))
	for sym := range b.referenceKlines {
		symbols = append(symbols, sym)
	}
	return symbols
}
