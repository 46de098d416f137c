package history

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"candlescan/internal/models"
)

const fiveMinMs = int64(300_000)

// refTime is a multiple of the 5m bucket width.
const refTime = int64(1_700_000_100_000)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeBackend serves a fixed range of 5m klines, failing the first
// failures calls.
type fakeBackend struct {
	failures int
	calls    int
	fromTime int64
	toTime   int64
}

func (f *fakeBackend) Load(_ context.Context, _, tf string, targetTime, endTime int64, _ models.ExchangeMarket) ([]models.OHLCV, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient fetch error")
	}

	var out []models.OHLCV
	for ts := f.fromTime; ts < f.toTime && ts < endTime; ts += fiveMinMs {
		if ts < targetTime {
			continue
		}
		out = append(out, models.NewOHLCV(ts, 10, 11, 9, 10, 1))
	}
	return out, nil
}

func newTestLoader(backend Backend) *Loader {
	l := NewLoader(map[string]Backend{"binance": backend}, quietLogger())
	l.maxAttempts = 3
	l.initialBackoff = time.Millisecond
	return l
}

func request(n int) models.HistoryLoadRequest {
	return models.HistoryLoadRequest{
		ReqID:              "req-1",
		Ticker:             models.Ticker(models.BinanceSpot, "BTCUSDT", "5m"),
		ReferenceKlineTime: refTime,
		Len:                n,
	}
}

func awaitCompletion(t *testing.T, ch <-chan models.LoadedHistory) models.LoadedHistory {
	t.Helper()
	select {
	case completion := <-ch:
		return completion
	case <-time.After(time.Second):
		t.Fatal("no completion received")
		return models.LoadedHistory{}
	}
}

func TestLoaderLoadsBackwardFromReference(t *testing.T) {
	backend := &fakeBackend{fromTime: refTime - 20*fiveMinMs, toTime: refTime + fiveMinMs}
	l := newTestLoader(backend)
	completions := l.SubscribeLoadedHistory()

	l.process(request(10))

	completion := awaitCompletion(t, completions)
	if completion.Err != nil || completion.Unbuildable {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	if len(completion.History) != 10 {
		t.Fatalf("got %d klines, want 10", len(completion.History))
	}
	last := completion.History[len(completion.History)-1]
	if last.OpenTime() != refTime-fiveMinMs {
		t.Errorf("newest loaded kline = %d, want %d (reference excluded)", last.OpenTime(), refTime-fiveMinMs)
	}
	first := completion.History[0]
	if first.OpenTime() != refTime-10*fiveMinMs {
		t.Errorf("oldest loaded kline = %d, want %d", first.OpenTime(), refTime-10*fiveMinMs)
	}
}

func TestLoaderFillsInternalGaps(t *testing.T) {
	gappy := &gapBackend{}
	l := newTestLoader(gappy)
	completions := l.SubscribeLoadedHistory()

	l.process(request(6))

	completion := awaitCompletion(t, completions)
	if completion.Err != nil {
		t.Fatal(completion.Err)
	}
	for i := 1; i < len(completion.History); i++ {
		delta := completion.History[i].OpenTime() - completion.History[i-1].OpenTime()
		if delta != fiveMinMs {
			t.Errorf("gap of %d ms between %d and %d", delta, i-1, i)
		}
	}
}

// gapBackend returns klines with one missing bucket in the middle.
type gapBackend struct{}

func (gapBackend) Load(_ context.Context, _, _ string, targetTime, endTime int64, _ models.ExchangeMarket) ([]models.OHLCV, error) {
	out := []models.OHLCV{
		models.NewOHLCV(refTime-5*fiveMinMs, 10, 11, 9, 10, 1),
		models.NewOHLCV(refTime-4*fiveMinMs, 10, 11, 9, 10, 1),
		models.NewOHLCV(refTime-2*fiveMinMs, 10, 11, 9, 10, 1),
		models.NewOHLCV(refTime-fiveMinMs, 10, 11, 9, 10, 1),
	}
	return out, nil
}

func TestLoaderRetriesTransientErrors(t *testing.T) {
	backend := &fakeBackend{failures: 2, fromTime: refTime - 5*fiveMinMs, toTime: refTime}
	l := newTestLoader(backend)
	completions := l.SubscribeLoadedHistory()

	l.process(request(3))

	completion := awaitCompletion(t, completions)
	if completion.Err != nil {
		t.Fatalf("should succeed after retries: %v", completion.Err)
	}
	if backend.calls != 3 {
		t.Errorf("backend called %d times, want 3", backend.calls)
	}
}

func TestLoaderGivesUpAfterMaxAttempts(t *testing.T) {
	backend := &fakeBackend{failures: 100}
	l := newTestLoader(backend)
	completions := l.SubscribeLoadedHistory()

	l.process(request(3))

	completion := awaitCompletion(t, completions)
	if completion.Err == nil {
		t.Fatal("expected an error completion")
	}
	if backend.calls != l.maxAttempts {
		t.Errorf("backend called %d times, want %d", backend.calls, l.maxAttempts)
	}
}

func TestLoaderReportsUnbuildable(t *testing.T) {
	l := newTestLoader(unbuildableBackend{})
	completions := l.SubscribeLoadedHistory()

	l.process(request(3))

	completion := awaitCompletion(t, completions)
	if !completion.Unbuildable {
		t.Fatalf("expected unbuildable completion, got %+v", completion)
	}
	if completion.Err != nil {
		t.Error("unbuildable completions carry no error")
	}
}

type unbuildableBackend struct{}

func (unbuildableBackend) Load(context.Context, string, string, int64, int64, models.ExchangeMarket) ([]models.OHLCV, error) {
	return nil, ErrUnbuildable
}

// tradeBackend declines the kline path and serves raw trades instead.
type tradeBackend struct {
	trades []models.Trade
}

func (tradeBackend) Load(context.Context, string, string, int64, int64, models.ExchangeMarket) ([]models.OHLCV, error) {
	return nil, ErrUnbuildable
}

func (b tradeBackend) LoadTrades(_ context.Context, _ string, startTime, endTime int64, _ *atomic.Bool) ([]models.Trade, error) {
	var out []models.Trade
	for _, trade := range b.trades {
		if trade.Timestamp >= startTime && trade.Timestamp < endTime {
			out = append(out, trade)
		}
	}
	return out, nil
}

func TestLoaderRebuildsFromTrades(t *testing.T) {
	backend := tradeBackend{trades: []models.Trade{
		{ID: "1", Symbol: "BTCUSDT", Timestamp: refTime - 2*fiveMinMs + 1_000, Price: 100, Amount: 1},
		{ID: "2", Symbol: "BTCUSDT", Timestamp: refTime - 2*fiveMinMs + 9_000, Price: 105, Amount: 2},
		{ID: "3", Symbol: "BTCUSDT", Timestamp: refTime - fiveMinMs + 1_000, Price: 95, Amount: 1},
	}}
	l := newTestLoader(backend)
	completions := l.SubscribeLoadedHistory()

	l.process(request(2))

	completion := awaitCompletion(t, completions)
	if completion.Err != nil || completion.Unbuildable {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	if len(completion.History) != 2 {
		t.Fatalf("got %d klines, want 2", len(completion.History))
	}
	first := completion.History[0]
	if first.High() != 105 || first.Volume() != 3 {
		t.Errorf("first rebuilt kline wrong: %v", first)
	}
	if completion.History[1].Close() != 95 {
		t.Errorf("second rebuilt kline wrong: %v", completion.History[1])
	}
}

func TestLoaderQueueIsFIFO(t *testing.T) {
	backend := &fakeBackend{fromTime: refTime - 5*fiveMinMs, toTime: refTime}
	l := newTestLoader(backend)

	first := request(1)
	second := request(1)
	second.ReqID = "req-2"

	l.Enqueue(first)
	l.Enqueue(second)

	if got := l.QueueDepth(); got != 2 {
		t.Fatalf("queue depth = %d, want 2", got)
	}

	l.mu.Lock()
	head := l.queue[0].ReqID
	l.mu.Unlock()
	if head != "req-1" {
		t.Errorf("queue head = %s, want req-1", head)
	}
}
