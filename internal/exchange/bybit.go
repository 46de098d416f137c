package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"candlescan/internal/models"
)

const (
	bybitStreamURL = "wss://stream.bybit.com/v5/public"
	bybitRestURL   = "https://api.bybit.com"

	bybitPingInterval = 20 * time.Second
	bybitRedialDelay  = 5 * time.Second
)

// Bybit adapts the Bybit v5 public REST and WebSocket APIs. One stream
// connection is kept per market category; trade topics are subscribed on
// it as symbols are added.
type Bybit struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger

	mu          sync.Mutex
	onTrade     TradeHandler
	onReconnect ReconnectHandler
	streams     map[string]*bybitStream // category -> stream
}

// NewBybit creates the Bybit adapter. minRequestDelay spaces REST calls;
// Bybit enforces per-IP request pacing rather than a weight budget.
func NewBybit(minRequestDelay time.Duration, logger *logrus.Logger) *Bybit {
	if minRequestDelay <= 0 {
		minRequestDelay = 250 * time.Millisecond
	}
	return &Bybit{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(minRequestDelay), 1),
		logger:     logger,
		streams:    make(map[string]*bybitStream),
	}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) OnTrade(h TradeHandler)         { b.mu.Lock(); b.onTrade = h; b.mu.Unlock() }
func (b *Bybit) OnReconnect(h ReconnectHandler) { b.mu.Lock(); b.onReconnect = h; b.mu.Unlock() }

func bybitCategory(xm models.ExchangeMarket) string {
	if xm.IsBybitLinear() {
		return "linear"
	}
	return "spot"
}

type bybitInstrumentsResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	} `json:"result"`
}

func (b *Bybit) ListInstruments(ctx context.Context, xm models.ExchangeMarket) ([]models.ExchangeSymbol, error) {
	query := url.Values{}
	query.Set("category", bybitCategory(xm))
	query.Set("limit", "1000")

	var resp bybitInstrumentsResponse
	if err := b.get(ctx, "/v5/market/instruments-info", query, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit instruments-info: %s (code %d)", resp.RetMsg, resp.RetCode)
	}

	instruments := make([]models.ExchangeSymbol, 0, len(resp.Result.List))
	for _, inst := range resp.Result.List {
		if inst.Status != "Trading" {
			continue
		}
		instruments = append(instruments, models.ExchangeSymbol{
			BaseAsset:      inst.BaseCoin,
			QuoteAsset:     inst.QuoteCoin,
			ExchangeMarket: xm,
		})
	}
	return instruments, nil
}

type bybitKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// FetchKlines fetches one page of candles. Bybit returns the list newest
// first; it is reversed here so callers always see oldest first.
func (b *Bybit) FetchKlines(ctx context.Context, symbol, nativeResolution string, startTime int64, limit int, xm models.ExchangeMarket) ([]models.OHLCV, error) {
	query := url.Values{}
	query.Set("category", bybitCategory(xm))
	query.Set("symbol", symbol)
	query.Set("interval", nativeResolution)
	query.Set("start", strconv.FormatInt(startTime, 10))
	query.Set("limit", strconv.Itoa(limit))

	var resp bybitKlineResponse
	if err := b.get(ctx, "/v5/market/kline", query, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline %s: %s (code %d)", symbol, resp.RetMsg, resp.RetCode)
	}

	list := resp.Result.List
	klines := make([]models.OHLCV, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		row := list[i]
		if len(row) < 6 {
			continue
		}
		openTime, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		klines = append(klines, models.NewOHLCV(
			openTime,
			parseWireFloat(row[1]),
			parseWireFloat(row[2]),
			parseWireFloat(row[3]),
			parseWireFloat(row[4]),
			parseWireFloat(row[5]),
		))
	}
	return klines, nil
}

func (b *Bybit) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bybitRestURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bybit %s: HTTP %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

// SubscribeTrades adds the symbol's publicTrade topic to the category's
// shared stream, dialing the stream first if needed.
func (b *Bybit) SubscribeTrades(symbol string, xm models.ExchangeMarket) error {
	category := bybitCategory(xm)

	b.mu.Lock()
	stream, ok := b.streams[category]
	if !ok {
		stream = newBybitStream(b, category)
		b.streams[category] = stream
		go stream.run()
	}
	b.mu.Unlock()

	return stream.subscribe(symbol)
}

type bybitSubscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type bybitTradeMsg struct {
	Topic string `json:"topic"`
	Data  []struct {
		Timestamp int64  `json:"T"`
		Symbol    string `json:"s"`
		Volume    string `json:"v"`
		Price     string `json:"p"`
		TradeID   string `json:"i"`
	} `json:"data"`
}

// bybitStream is one public websocket connection for a market category.
// It redials on failure and replays all accumulated subscriptions.
type bybitStream struct {
	adapter  *Bybit
	category string

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]struct{}
	stop   chan struct{}
}

func newBybitStream(adapter *Bybit, category string) *bybitStream {
	return &bybitStream{
		adapter:  adapter,
		category: category,
		topics:   make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

func (s *bybitStream) subscribe(symbol string) error {
	topic := "publicTrade." + symbol

	s.mu.Lock()
	if _, ok := s.topics[topic]; ok {
		s.mu.Unlock()
		return nil
	}
	s.topics[topic] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		// Not connected yet; the topic is replayed once the dial succeeds.
		return nil
	}
	return s.send(bybitSubscribeMsg{Op: "subscribe", Args: []string{topic}})
}

func (s *bybitStream) send(msg bybitSubscribeMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.WriteJSON(msg)
}

func (s *bybitStream) run() {
	first := true
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if !first {
			s.adapter.mu.Lock()
			onReconnect := s.adapter.onReconnect
			s.adapter.mu.Unlock()
			if onReconnect != nil {
				onReconnect("bybit:" + s.category)
			}
		}
		first = false

		if err := s.connectAndServe(); err != nil {
			s.adapter.logger.WithError(err).Warnf("Bybit %s stream dropped, redialing", s.category)
		}

		select {
		case <-s.stop:
			return
		case <-time.After(bybitRedialDelay):
		}
	}
}

func (s *bybitStream) connectAndServe() error {
	conn, _, err := websocket.DefaultDialer.Dial(bybitStreamURL+"/"+s.category, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if len(topics) > 0 {
		if err := s.send(bybitSubscribeMsg{Op: "subscribe", Args: topics}); err != nil {
			return err
		}
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(pingDone)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(raw)
	}
}

func (s *bybitStream) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(bybitPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.send(bybitSubscribeMsg{Op: "ping"}); err != nil {
				s.adapter.logger.WithError(err).Debugf("Bybit %s ping failed", s.category)
				return
			}
		}
	}
}

func (s *bybitStream) handleMessage(raw []byte) {
	var msg bybitTradeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if len(msg.Data) == 0 {
		return
	}

	s.adapter.mu.Lock()
	onTrade := s.adapter.onTrade
	s.adapter.mu.Unlock()
	if onTrade == nil {
		return
	}

	for _, t := range msg.Data {
		onTrade(models.Trade{
			ID:        t.TradeID,
			Symbol:    t.Symbol,
			Timestamp: t.Timestamp,
			Price:     parseWireFloat(t.Price),
			Amount:    parseWireFloat(t.Volume),
		})
	}
}
