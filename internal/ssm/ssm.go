// Package ssm implements the symbols state manager: the stateful top of
// the pipeline that keeps a rolling candle window per (symbol, time
// frame), classifies each build result as a full-candle or
// in-progress-candle update, requests history backfills and merges them
// under the live window.
package ssm

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"candlescan/internal/history"
	"candlescan/internal/klines"
	"candlescan/internal/metrics"
	"candlescan/internal/models"
	"candlescan/internal/scanner"
)

// ErrScannerNotStarted is returned by Start when the scanner it would
// subscribe to is not running yet.
var ErrScannerNotStarted = errors.New("symbols state manager requires a started scanner")

const (
	ikThrottleWindow = 100 * time.Millisecond
	eventBufferLen   = 256
)

// pendingLoad remembers which annotated symbol and time frame an
// in-flight backfill belongs to. Tickers carry the exchange-native
// symbol; state is keyed by the "BASE/QUOTE" form.
type pendingLoad struct {
	ticker string
	symbol string
	tf     string
}

// Manager is the symbols state manager.
type Manager struct {
	logger *logrus.Logger
	scan   *scanner.Scanner
	loader *history.Loader

	mu      sync.Mutex
	started bool
	config  models.SSMConfig
	states  map[string]*models.SymbolState
	pending map[string]pendingLoad // reqID -> in-flight backfill
	lastIK  map[string]time.Time   // symbol~tf -> last IK emission

	fkSubscribers []chan models.FKEvent
	ikSubscribers []chan models.IKEvent

	stopChan chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

func NewManager(scan *scanner.Scanner, loader *history.Loader, logger *logrus.Logger) *Manager {
	return &Manager{
		logger:   logger,
		scan:     scan,
		loader:   loader,
		states:   make(map[string]*models.SymbolState),
		pending:  make(map[string]pendingLoad),
		lastIK:   make(map[string]time.Time),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start subscribes to the scanner's build-result stream and the history
// loader's completion stream. The scanner must already be running.
func (m *Manager) Start(cfg models.SSMConfig) error {
	if !m.scan.Started() {
		return ErrScannerNotStarted
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.config = cfg
	m.mu.Unlock()

	builds := m.scan.SubscribeBuildResults()
	completions := m.loader.SubscribeLoadedHistory()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.stopChan:
				return
			case result := <-builds:
				m.handleBuildResult(result)
			case completion := <-completions:
				m.handleCompletion(completion)
			}
		}
	}()

	m.logger.Infof("🧭 Symbols state manager started (%d time frame(s), history %d)", len(cfg.TimeFrames), cfg.HistoryLen)
	return nil
}

func (m *Manager) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}

// Started reports whether Start has succeeded.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// SubscribeFKEvents registers a full-candle event subscriber.
func (m *Manager) SubscribeFKEvents() <-chan models.FKEvent {
	ch := make(chan models.FKEvent, eventBufferLen)
	m.mu.Lock()
	m.fkSubscribers = append(m.fkSubscribers, ch)
	m.mu.Unlock()
	return ch
}

// SubscribeIKEvents registers an in-progress-candle event subscriber.
func (m *Manager) SubscribeIKEvents() <-chan models.IKEvent {
	ch := make(chan models.IKEvent, eventBufferLen)
	m.mu.Lock()
	m.ikSubscribers = append(m.ikSubscribers, ch)
	m.mu.Unlock()
	return ch
}

// GetSymbolState returns a snapshot of a symbol's full per-time-frame
// state, or nil if the symbol is untracked.
func (m *Manager) GetSymbolState(symbol string) *models.SymbolState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[symbol]
	if !ok {
		return nil
	}

	snapshot := &models.SymbolState{
		Symbol:    state.Symbol,
		Histories: make(map[string]*models.SymbolHistory, len(state.Histories)),
	}
	for tf, h := range state.Histories {
		snapshot.Histories[tf] = &models.SymbolHistory{
			TimeFrame: h.TimeFrame,
			History:   append([]models.OHLCV(nil), h.History...),
			Loaded:    h.Loaded,
			Loading:   h.Loading,
		}
	}
	return snapshot
}

// handleBuildResult applies one build result to the symbol's tracked
// state. Updates failing the interest filter are ignored wholesale.
func (m *Manager) handleBuildResult(result models.KlinesBuildResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.interestedLocked(result) {
		return
	}

	state, ok := m.states[result.Symbol]
	if !ok {
		state = &models.SymbolState{
			Symbol:    result.Symbol,
			Histories: make(map[string]*models.SymbolHistory, len(m.config.TimeFrames)),
		}
		for _, tf := range m.config.TimeFrames {
			state.Histories[tf] = &models.SymbolHistory{TimeFrame: tf}
		}
		m.states[result.Symbol] = state
	}

	// Time frames in the update but not configured are dropped here.
	for _, tf := range m.config.TimeFrames {
		kline, ok := result.Klines[tf]
		if !ok {
			continue
		}
		h := state.Histories[tf]
		if h == nil {
			m.logger.Errorf("Untracked time frame %s for %s, dropping update", tf, result.Symbol)
			continue
		}

		m.applyKlineLocked(result, tf, h, kline)
		m.maybeRequestHistoryLocked(result, tf, h, kline)
	}
}

// interestedLocked applies the interest filter: market match, blacklist,
// whitelist, and all configured time frames present.
func (m *Manager) interestedLocked(result models.KlinesBuildResult) bool {
	if result.ExchangeMarket != m.scan.Config().ExchangeMarket {
		return false
	}
	for _, banned := range m.config.Blacklist {
		if strings.EqualFold(result.Symbol, banned) {
			return false
		}
	}
	if len(m.config.Whitelist) > 0 {
		listed := false
		for _, wanted := range m.config.Whitelist {
			if strings.EqualFold(result.Symbol, wanted) {
				listed = true
				break
			}
		}
		if !listed {
			return false
		}
	}
	for _, tf := range m.config.TimeFrames {
		if _, ok := result.Klines[tf]; !ok {
			return false
		}
	}
	return true
}

func (m *Manager) applyKlineLocked(result models.KlinesBuildResult, tf string, h *models.SymbolHistory, kline models.OHLCV) {
	if len(h.History) == 0 {
		h.History = append(h.History, kline)
		return
	}

	last := h.History[len(h.History)-1]
	if kline.OpenTime() == last.OpenTime() {
		h.History[len(h.History)-1] = kline
		m.emitIKLocked(result, tf, h)
		return
	}

	gaps, err := klines.GapsCount(last.OpenTime(), kline.OpenTime(), tf)
	if err != nil {
		m.logger.WithError(err).Errorf("Failed to measure gap for %s %s", result.Symbol, tf)
		return
	}
	if gaps > 0 {
		synth, err := klines.GenerateMissing(last, gaps, tf)
		if err != nil {
			m.logger.WithError(err).Errorf("Failed to fill gap for %s %s", result.Symbol, tf)
			return
		}
		h.History = append(h.History, synth...)
		metrics.GapKlinesFilled.WithLabelValues(tf).Add(float64(gaps))
	}
	h.History = append(h.History, kline)
	if m.config.HistoryLen > 0 && len(h.History) > m.config.HistoryLen {
		h.History = h.History[len(h.History)-m.config.HistoryLen:]
	}

	// A new bucket opened; the next in-progress update for it should not
	// be held back by the previous bucket's throttle timer.
	delete(m.lastIK, result.Symbol+"~"+tf)

	m.emitFKLocked(result, tf, h)
}

// maybeRequestHistoryLocked queues one backfill for a time frame seen
// for the first time.
func (m *Manager) maybeRequestHistoryLocked(result models.KlinesBuildResult, tf string, h *models.SymbolHistory, kline models.OHLCV) {
	if h.Loaded || h.Loading {
		return
	}
	h.Loading = true

	reqID := uuid.NewString()
	// The loader talks to the exchanges, which know nothing of the
	// annotated form.
	ticker := models.Ticker(result.ExchangeMarket, models.RemoveSymbolSlash(result.Symbol), tf)
	m.pending[reqID] = pendingLoad{ticker: ticker, symbol: result.Symbol, tf: tf}

	m.loader.Enqueue(models.HistoryLoadRequest{
		ReqID:              reqID,
		Ticker:             ticker,
		ReferenceKlineTime: kline.OpenTime(),
		Len:                m.config.HistoryLen,
	})
}

// handleCompletion merges one backfilled history under the live window.
func (m *Manager) handleCompletion(completion models.LoadedHistory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[completion.ReqID]
	if !ok || p.ticker != completion.Ticker {
		m.logger.Debugf("Ignoring completion for unknown request %s", completion.ReqID)
		return
	}
	delete(m.pending, completion.ReqID)
	symbol, tf := p.symbol, p.tf

	state, ok := m.states[symbol]
	if !ok {
		m.logger.Errorf("Completion for untracked symbol %s", symbol)
		return
	}
	h, ok := state.Histories[tf]
	if !ok {
		m.logger.Errorf("Completion for untracked time frame %s of %s", tf, symbol)
		return
	}

	if completion.Err != nil {
		// Stays unloaded; the next build result re-requests it.
		h.Loading = false
		return
	}
	if completion.Unbuildable {
		h.Loaded = true
		h.Loading = false
		return
	}

	loaded := completion.History
	if n := len(loaded); n > 0 && len(h.History) > 0 && loaded[n-1].OpenTime() == h.History[0].OpenTime() {
		// The live side owns the overlapping candle; it was built from the
		// continuous trade stream.
		loaded = loaded[:n-1]
	}
	h.History = append(append([]models.OHLCV(nil), loaded...), h.History...)
	if m.config.HistoryLen > 0 && len(h.History) > m.config.HistoryLen {
		h.History = h.History[len(h.History)-m.config.HistoryLen:]
	}
	h.Loaded = true
	h.Loading = false

	m.logger.Infof("📈 %s %s history merged, %d kline(s) tracked", symbol, tf, len(h.History))
}

func (m *Manager) emitFKLocked(result models.KlinesBuildResult, tf string, h *models.SymbolHistory) {
	if !h.Loaded {
		return
	}

	event := models.FKEvent{
		TimeFrame:      tf,
		Symbol:         result.Symbol,
		ExchangeMarket: result.ExchangeMarket,
		History:        append([]models.OHLCV(nil), h.History...),
	}
	metrics.FKEmissions.WithLabelValues(tf).Inc()

	for _, ch := range m.fkSubscribers {
		select {
		case ch <- event:
		default:
			m.logger.Warnf("Dropping FK event for %s %s, subscriber buffer full", result.Symbol, tf)
		}
	}
}

func (m *Manager) emitIKLocked(result models.KlinesBuildResult, tf string, h *models.SymbolHistory) {
	if !h.Loaded {
		return
	}

	key := result.Symbol + "~" + tf
	now := m.now()
	if last, ok := m.lastIK[key]; ok && now.Sub(last) < ikThrottleWindow {
		metrics.IKThrottled.WithLabelValues(tf).Inc()
		return
	}
	m.lastIK[key] = now

	event := models.IKEvent{
		TimeFrame:      tf,
		Symbol:         result.Symbol,
		ExchangeMarket: result.ExchangeMarket,
		History:        append([]models.OHLCV(nil), h.History...),
	}
	metrics.IKEmissions.WithLabelValues(tf).Inc()

	for _, ch := range m.ikSubscribers {
		select {
		case ch <- event:
		default:
			m.logger.Warnf("Dropping IK event for %s %s, subscriber buffer full", result.Symbol, tf)
		}
	}
}
