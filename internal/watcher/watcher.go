package watcher

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"candlescan/internal/exchange"
	"candlescan/internal/metrics"
	"candlescan/internal/models"
)

const (
	// Delay between consecutive topic subscriptions. Exchanges throttle
	// subscription bursts.
	subscribePacing = 1 * time.Second

	// Poll interval while an exchange's connection budget is exhausted.
	saturationBackoff = 5 * time.Second

	tradeBufferSize = 1024
)

// TradeUpdate is one canonical trade tagged with its source market.
type TradeUpdate struct {
	Trade          models.Trade
	ExchangeMarket models.ExchangeMarket
}

// Watcher subscribes symbols to their exchange trade streams and fans
// the unified stream out to any number of subscribers.
type Watcher struct {
	logger   *logrus.Logger
	governor *Governor
	adapters map[string]exchange.Adapter // exchange name -> adapter

	mu          sync.Mutex
	markets     map[string]models.ExchangeMarket // exchange:symbol -> market
	subscribers []chan TradeUpdate

	stopChan chan struct{}
}

// NewWatcher wires the adapters' trade and reconnect callbacks into the
// watcher. Each adapter is registered under its Name().
func NewWatcher(adapters []exchange.Adapter, governor *Governor, logger *logrus.Logger) *Watcher {
	w := &Watcher{
		logger:   logger,
		governor: governor,
		adapters: make(map[string]exchange.Adapter, len(adapters)),
		markets:  make(map[string]models.ExchangeMarket),
		stopChan: make(chan struct{}),
	}

	for _, a := range adapters {
		w.adapters[a.Name()] = a
		name := a.Name()
		a.OnTrade(func(trade models.Trade) {
			w.dispatch(name, trade)
		})
		a.OnReconnect(func(connectionKey string) {
			w.governor.TrackReconnectionEvent(name, connectionKey)
		})
	}
	return w
}

// Stop releases all subscription pacing loops currently waiting.
func (w *Watcher) Stop() {
	close(w.stopChan)
}

// SubscribeTradesUpdates registers a new subscriber and returns its
// channel. Updates are dropped for subscribers that fall behind.
func (w *Watcher) SubscribeTradesUpdates() <-chan TradeUpdate {
	ch := make(chan TradeUpdate, tradeBufferSize)
	w.mu.Lock()
	w.subscribers = append(w.subscribers, ch)
	w.mu.Unlock()
	return ch
}

// WatchTrades subscribes every symbol to its exchange's trade stream,
// paced one subscription per second. While an exchange's connection
// budget is exhausted the loop waits for the next governor window.
// Blocks until all symbols are subscribed; callers run it in a
// goroutine.
func (w *Watcher) WatchTrades(symbols []models.ExchangeSymbol) {
	for _, sym := range symbols {
		exchangeName := exchangeNameOf(sym.ExchangeMarket)
		adapter, ok := w.adapters[exchangeName]
		if !ok {
			w.logger.Warnf("No adapter registered for %s, skipping %s", sym.ExchangeMarket, sym.ID())
			continue
		}

		if !w.waitForBudget(exchangeName) {
			return
		}

		w.mu.Lock()
		w.markets[exchangeName+":"+sym.ID()] = sym.ExchangeMarket
		w.mu.Unlock()

		if err := adapter.SubscribeTrades(sym.ID(), sym.ExchangeMarket); err != nil {
			w.logger.WithError(err).Warnf("Failed to subscribe %s trades on %s", sym.ID(), exchangeName)
		} else {
			w.logger.Debugf("Watching %s trades on %s", sym.ID(), sym.ExchangeMarket)
		}
		w.governor.IncrementConnectionsCount(exchangeName)

		select {
		case <-w.stopChan:
			return
		case <-time.After(subscribePacing):
		}
	}

	w.logger.Infof("👀 Watching trades for %d symbol(s)", len(symbols))
}

func (w *Watcher) waitForBudget(exchangeName string) bool {
	for !w.governor.Allow(exchangeName) {
		select {
		case <-w.stopChan:
			return false
		case <-time.After(saturationBackoff):
		}
	}
	return true
}

func exchangeNameOf(xm models.ExchangeMarket) string {
	if xm.IsBinance() {
		return "binance"
	}
	return "bybit"
}

// dispatch tags a decoded trade with its market and fans it out.
// Subscribers with a full buffer miss the update.
func (w *Watcher) dispatch(exchangeName string, trade models.Trade) {
	w.mu.Lock()
	xm, ok := w.markets[exchangeName+":"+trade.Symbol]
	subscribers := w.subscribers
	w.mu.Unlock()
	if !ok {
		return
	}

	metrics.TradesProcessed.WithLabelValues(exchangeName).Inc()
	update := TradeUpdate{Trade: trade, ExchangeMarket: xm}

	for _, ch := range subscribers {
		select {
		case ch <- update:
		default:
			metrics.TradesDropped.WithLabelValues(exchangeName).Inc()
		}
	}
}
