package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"candlescan/internal/models"
)

// Request weight estimates per endpoint, matching Binance's published
// weights for the page sizes we use.
const (
	binanceWeightKlines       = 2
	binanceWeightAggTrades    = 2
	binanceWeightExchangeInfo = 20
)

// Binance adapts the Binance spot REST and WebSocket clients.
type Binance struct {
	client *binance.Client
	logger *logrus.Logger

	mu          sync.Mutex
	onTrade     TradeHandler
	onReconnect ReconnectHandler
	watched     map[string]chan struct{} // symbol -> stop signal

	weight *weightTracker
}

// NewBinance creates the Binance adapter. Public market data needs no
// credentials; keys are accepted for deployments that have them.
func NewBinance(apiKey, secretKey string, logger *logrus.Logger) *Binance {
	return &Binance{
		client:  binance.NewClient(apiKey, secretKey),
		logger:  logger,
		watched: make(map[string]chan struct{}),
		weight:  newWeightTracker(time.Minute),
	}
}

func (b *Binance) Name() string { return "binance" }

// UsedWeight returns the estimated request weight spent in the current
// one-minute window. The history backend consults this before each page
// to stay clear of the 1200/min IP limit.
func (b *Binance) UsedWeight() int {
	return b.weight.used()
}

func (b *Binance) OnTrade(h TradeHandler)         { b.mu.Lock(); b.onTrade = h; b.mu.Unlock() }
func (b *Binance) OnReconnect(h ReconnectHandler) { b.mu.Lock(); b.onReconnect = h; b.mu.Unlock() }

func (b *Binance) ListInstruments(ctx context.Context, xm models.ExchangeMarket) ([]models.ExchangeSymbol, error) {
	b.weight.add(binanceWeightExchangeInfo)
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}

	instruments := make([]models.ExchangeSymbol, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		instruments = append(instruments, models.ExchangeSymbol{
			BaseAsset:      s.BaseAsset,
			QuoteAsset:     s.QuoteAsset,
			ExchangeMarket: xm,
		})
	}
	return instruments, nil
}

// SubscribeTrades opens a dedicated trade stream for the symbol. The
// serve loop redials whenever the stream drops; every redial is reported
// to the reconnect handler.
func (b *Binance) SubscribeTrades(symbol string, _ models.ExchangeMarket) error {
	b.mu.Lock()
	if _, ok := b.watched[symbol]; ok {
		b.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	b.watched[symbol] = stop
	b.mu.Unlock()

	go b.serveTrades(symbol, stop)
	return nil
}

func (b *Binance) serveTrades(symbol string, stop chan struct{}) {
	first := true
	for {
		select {
		case <-stop:
			return
		default:
		}

		if !first {
			b.mu.Lock()
			onReconnect := b.onReconnect
			b.mu.Unlock()
			if onReconnect != nil {
				onReconnect("binance:trade:" + symbol)
			}
		}
		first = false

		doneC, _, err := binance.WsTradeServe(symbol, b.handleTradeEvent, func(err error) {
			b.logger.WithError(err).Warnf("Binance trade stream error for %s", symbol)
		})
		if err != nil {
			b.logger.WithError(err).Warnf("Binance trade stream dial failed for %s", symbol)
			time.Sleep(5 * time.Second)
			continue
		}

		select {
		case <-doneC:
			b.logger.Warnf("Binance trade stream closed for %s, redialing", symbol)
		case <-stop:
			return
		}
	}
}

func (b *Binance) handleTradeEvent(event *binance.WsTradeEvent) {
	b.mu.Lock()
	onTrade := b.onTrade
	b.mu.Unlock()
	if onTrade == nil {
		return
	}

	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		return
	}
	qty, err := decimal.NewFromString(event.Quantity)
	if err != nil {
		return
	}

	onTrade(models.Trade{
		ID:        strconv.FormatInt(event.TradeID, 10),
		Symbol:    event.Symbol,
		Timestamp: event.TradeTime,
		Price:     price.InexactFloat64(),
		Amount:    qty.InexactFloat64(),
	})
}

func (b *Binance) FetchKlines(ctx context.Context, symbol, nativeResolution string, startTime int64, limit int, _ models.ExchangeMarket) ([]models.OHLCV, error) {
	b.weight.add(binanceWeightKlines)
	raw, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(nativeResolution).
		StartTime(startTime).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	klines := make([]models.OHLCV, 0, len(raw))
	for _, k := range raw {
		klines = append(klines, models.NewOHLCV(
			k.OpenTime,
			parseWireFloat(k.Open),
			parseWireFloat(k.High),
			parseWireFloat(k.Low),
			parseWireFloat(k.Close),
			parseWireFloat(k.Volume),
		))
	}
	return klines, nil
}

// FetchAggTrades fetches one page of aggregated trades. When fromID > 0
// it continues from that cursor, otherwise it starts at startTime.
func (b *Binance) FetchAggTrades(ctx context.Context, symbol string, fromID, startTime int64, limit int) ([]models.Trade, int64, error) {
	b.weight.add(binanceWeightAggTrades)
	svc := b.client.NewAggTradesService().Symbol(symbol).Limit(limit)
	if fromID > 0 {
		svc = svc.FromID(fromID)
	} else {
		svc = svc.StartTime(startTime)
	}

	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, 0, err
	}

	trades := make([]models.Trade, 0, len(raw))
	var lastID int64
	for _, t := range raw {
		trades = append(trades, models.Trade{
			ID:        strconv.FormatInt(t.AggTradeID, 10),
			Symbol:    symbol,
			Timestamp: t.Timestamp,
			Price:     parseWireFloat(t.Price),
			Amount:    parseWireFloat(t.Quantity),
		})
		lastID = t.AggTradeID
	}
	return trades, lastID, nil
}

func parseWireFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// weightTracker keeps a rolling estimate of request weight spent inside
// the current rate-limit window.
type weightTracker struct {
	mu          sync.Mutex
	window      time.Duration
	windowStart time.Time
	spent       int
}

func newWeightTracker(window time.Duration) *weightTracker {
	return &weightTracker{window: window, windowStart: time.Now()}
}

func (w *weightTracker) add(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollLocked()
	w.spent += n
}

func (w *weightTracker) used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollLocked()
	return w.spent
}

func (w *weightTracker) rollLocked() {
	if time.Since(w.windowStart) >= w.window {
		w.windowStart = time.Now()
		w.spent = 0
	}
}
