// Package watcher owns live trade ingestion: subscribing symbols on the
// exchange adapters under connection-budget governance and fanning the
// unified trade stream out to subscribers.
package watcher

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"candlescan/internal/metrics"
)

// Per-window connection budgets. Exchanges rate limit connection
// attempts per 5 minutes, and every attempt counts, successful or not.
const (
	BinanceConnectionsCap = 300
	BybitConnectionsCap   = 500

	governorResetInterval = 5 * time.Minute
)

// Governor tracks connection attempts and reconnection events per
// exchange inside a rolling reset window. While an exchange's budget is
// exhausted the governor reports saturation and new subscriptions pause
// until the next window.
type Governor struct {
	logger *logrus.Logger

	mu           sync.Mutex
	counts       map[string]int
	caps         map[string]int
	saturated    map[string]bool
	reconnection map[string][]time.Time // connection key -> event times

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewGovernor creates a governor with the default per-exchange caps.
func NewGovernor(logger *logrus.Logger) *Governor {
	return &Governor{
		logger: logger,
		counts: make(map[string]int),
		caps: map[string]int{
			"binance": BinanceConnectionsCap,
			"bybit":   BybitConnectionsCap,
		},
		saturated:    make(map[string]bool),
		reconnection: make(map[string][]time.Time),
		stopChan:     make(chan struct{}),
	}
}

// Start launches the periodic window reset job.
func (g *Governor) Start() {
	g.wg.Add(1)
	go g.resetLoop()
	g.logger.Info("🚦 Connection governor started")
}

// Stop terminates the reset job.
func (g *Governor) Stop() {
	close(g.stopChan)
	g.wg.Wait()
}

// Allow reports whether the exchange still has connection budget in the
// current window.
func (g *Governor) Allow(exchange string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.saturated[exchange]
}

// IncrementConnectionsCount records one connection attempt. Crossing the
// cap flips the exchange to saturated until the window resets.
func (g *Governor) IncrementConnectionsCount(exchange string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts[exchange]++
	metrics.ConnectionsCount.WithLabelValues(exchange).Set(float64(g.counts[exchange]))

	limit, ok := g.caps[exchange]
	if !ok {
		return
	}
	if g.counts[exchange] >= limit && !g.saturated[exchange] {
		g.saturated[exchange] = true
		metrics.GovernorSaturations.WithLabelValues(exchange).Inc()
		g.logger.Warnf("Connection budget for %s exhausted (%d/%d), pausing new subscriptions until window reset",
			exchange, g.counts[exchange], limit)
	}
}

// TrackReconnectionEvent records one stream reconnection for the given
// connection key and counts it against the owning exchange's budget.
func (g *Governor) TrackReconnectionEvent(exchange, connectionKey string) {
	g.mu.Lock()
	g.reconnection[connectionKey] = append(g.reconnection[connectionKey], time.Now())
	g.mu.Unlock()

	metrics.ReconnectionEvents.WithLabelValues(exchange).Inc()
	g.IncrementConnectionsCount(exchange)
}

// ConnectionsCount returns the attempts recorded for the exchange in the
// current window.
func (g *Governor) ConnectionsCount(exchange string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[exchange]
}

func (g *Governor) resetLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(governorResetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			g.resetWindow()
		}
	}
}

// resetWindow clears counts and saturation and logs a per-connection
// reconnection summary for the closed window.
func (g *Governor) resetWindow() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, events := range g.reconnection {
		if len(events) == 0 {
			continue
		}
		g.logger.Infof("🔄 %s reconnected %d time(s) in the last %s (first %s, last %s)",
			key, len(events), governorResetInterval,
			events[0].Format(time.RFC3339), events[len(events)-1].Format(time.RFC3339))
	}

	for exchange := range g.counts {
		g.counts[exchange] = 0
		metrics.ConnectionsCount.WithLabelValues(exchange).Set(0)
	}
	g.saturated = make(map[string]bool)
	g.reconnection = make(map[string][]time.Time)
}
