// Package history backfills candle history backward from a live
// reference kline, paging native exchange data and aggregating it to the
// requested time frame.
package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"candlescan/internal/klines"
	"candlescan/internal/metrics"
	"candlescan/internal/models"
	"candlescan/internal/timeframe"
)

const (
	loaderTickInterval = 1 * time.Second

	loadMaxAttempts     = 5
	loadInitialBackoff  = 2 * time.Second
	completionBufferLen = 64
)

// Backend pages one exchange's historical klines.
type Backend interface {
	Load(ctx context.Context, symbol, tf string, targetTime, endTime int64, xm models.ExchangeMarket) ([]models.OHLCV, error)
}

// TradeBackend is implemented by backends that can page raw historical
// trades. The loader reconstructs candles from trades when a time frame
// has no native candle source on the exchange.
type TradeBackend interface {
	LoadTrades(ctx context.Context, symbol string, startTime, endTime int64, abort *atomic.Bool) ([]models.Trade, error)
}

// Loader serializes history load jobs through a FIFO queue, one job in
// flight at a time, and fans completed loads out to subscribers.
type Loader struct {
	logger   *logrus.Logger
	backends map[string]Backend // exchange name -> backend

	maxAttempts    int
	initialBackoff time.Duration

	mu          sync.Mutex
	queue       []models.HistoryLoadRequest
	busy        bool
	subscribers []chan models.LoadedHistory

	abort    atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewLoader(backends map[string]Backend, logger *logrus.Logger) *Loader {
	return &Loader{
		logger:         logger,
		backends:       backends,
		maxAttempts:    loadMaxAttempts,
		initialBackoff: loadInitialBackoff,
		stopChan:       make(chan struct{}),
	}
}

// Start launches the queue drain loop.
func (l *Loader) Start() {
	l.wg.Add(1)
	go l.drainLoop()
	l.logger.Info("⏳ History loader started")
}

func (l *Loader) Stop() {
	l.abort.Store(true)
	close(l.stopChan)
	l.wg.Wait()
}

// Enqueue appends one load job to the queue.
func (l *Loader) Enqueue(req models.HistoryLoadRequest) {
	l.mu.Lock()
	l.queue = append(l.queue, req)
	depth := len(l.queue)
	l.mu.Unlock()

	metrics.BackfillJobsQueued.Inc()
	metrics.BackfillQueueDepth.Set(float64(depth))
	l.logger.Debugf("History load queued for %s (depth %d)", req.Ticker, depth)
}

// QueueDepth returns the number of jobs waiting, excluding any in flight.
func (l *Loader) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// SubscribeLoadedHistory registers a completion subscriber.
func (l *Loader) SubscribeLoadedHistory() <-chan models.LoadedHistory {
	ch := make(chan models.LoadedHistory, completionBufferLen)
	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()
	return ch
}

func (l *Loader) drainLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(loaderTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.maybeStartNext()
		}
	}
}

func (l *Loader) maybeStartNext() {
	l.mu.Lock()
	if l.busy || len(l.queue) == 0 {
		l.mu.Unlock()
		return
	}
	req := l.queue[0]
	l.queue = l.queue[1:]
	l.busy = true
	metrics.BackfillQueueDepth.Set(float64(len(l.queue)))
	l.mu.Unlock()

	go func() {
		l.process(req)
		l.mu.Lock()
		l.busy = false
		l.mu.Unlock()
	}()
}

func (l *Loader) process(req models.HistoryLoadRequest) {
	completion := models.LoadedHistory{ReqID: req.ReqID, Ticker: req.Ticker}

	xm, symbol, tf, err := models.SplitTicker(req.Ticker)
	if err != nil {
		completion.Err = err
		l.complete(completion, "error")
		return
	}

	exchangeName := "bybit"
	if xm.IsBinance() {
		exchangeName = "binance"
	}
	backend, ok := l.backends[exchangeName]
	if !ok {
		completion.Unbuildable = true
		l.complete(completion, "unbuildable")
		return
	}

	targetTime, err := timeframe.NthPreviousOpenTime(req.ReferenceKlineTime, tf, req.Len)
	if err != nil {
		completion.Err = err
		l.complete(completion, "error")
		return
	}

	history, err := l.loadWithRetry(backend, symbol, tf, targetTime, req.ReferenceKlineTime, xm)
	if err == ErrUnbuildable {
		// Last resort: rebuild the candles from raw trades, on exchanges
		// that page them.
		tb, ok := backend.(TradeBackend)
		if !ok {
			completion.Unbuildable = true
			l.complete(completion, "unbuildable")
			return
		}
		history, err = l.loadFromTrades(tb, symbol, tf, targetTime, req.ReferenceKlineTime)
		if err == ErrTradeBackfillUnsupported {
			completion.Unbuildable = true
			l.complete(completion, "unbuildable")
			return
		}
	}
	if err != nil {
		completion.Err = err
		l.complete(completion, "error")
		return
	}

	history, err = klines.FillMissing(history, tf)
	if err != nil {
		completion.Err = err
		l.complete(completion, "error")
		return
	}

	// The page covering the reference kline may include it; the live side
	// already owns that candle.
	if n := len(history); n > 0 && history[n-1].OpenTime() == req.ReferenceKlineTime {
		history = history[:n-1]
	}
	if len(history) > req.Len {
		history = history[len(history)-req.Len:]
	}

	completion.History = history
	l.complete(completion, "ok")
}

func (l *Loader) loadWithRetry(backend Backend, symbol, tf string, targetTime, endTime int64, xm models.ExchangeMarket) ([]models.OHLCV, error) {
	backoff := l.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		history, err := backend.Load(ctx, symbol, tf, targetTime, endTime, xm)
		cancel()
		if err == nil {
			return history, nil
		}
		if err == ErrUnbuildable {
			return nil, err
		}

		lastErr = err
		l.logger.WithError(err).Warnf("History load attempt %d/%d failed for %s %s", attempt, l.maxAttempts, symbol, tf)
		if attempt < l.maxAttempts {
			select {
			case <-l.stopChan:
				return nil, err
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (l *Loader) loadFromTrades(backend TradeBackend, symbol, tf string, targetTime, endTime int64) ([]models.OHLCV, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	trades, err := backend.LoadTrades(ctx, symbol, targetTime, endTime, &l.abort)
	if err != nil {
		return nil, err
	}
	l.logger.Infof("Rebuilding %s %s history from %d trade(s)", symbol, tf, len(trades))
	return buildKlinesFromTrades(trades, tf)
}

// buildKlinesFromTrades folds a time-ordered trade list into candles of
// the given time frame. The last, still-open candle is included.
func buildKlinesFromTrades(trades []models.Trade, tf string) ([]models.OHLCV, error) {
	var out []models.OHLCV
	var ref *models.OHLCV
	for _, trade := range trades {
		k, err := klines.Build(trade, tf, ref)
		if err != nil {
			return nil, err
		}
		if ref != nil && k.OpenTime() != ref.OpenTime() {
			out = append(out, *ref)
		}
		built := k
		ref = &built
	}
	if ref != nil {
		out = append(out, *ref)
	}
	return out, nil
}

func (l *Loader) complete(completion models.LoadedHistory, outcome string) {
	metrics.BackfillJobsCompleted.WithLabelValues(outcome).Inc()

	switch outcome {
	case "ok":
		l.logger.Infof("📦 Loaded %d kline(s) for %s", len(completion.History), completion.Ticker)
	case "unbuildable":
		l.logger.Infof("History for %s is unbuildable", completion.Ticker)
	default:
		l.logger.WithError(completion.Err).Errorf("History load failed for %s", completion.Ticker)
	}

	l.mu.Lock()
	subscribers := l.subscribers
	l.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- completion:
		default:
			l.logger.Warnf("Dropping history completion for %s, subscriber buffer full", completion.Ticker)
		}
	}
}
