package history

import (
	"errors"
	"strconv"

	"candlescan/internal/models"
	"candlescan/internal/timeframe"
)

// ErrUnbuildable marks a (market, time frame) pair whose history cannot
// be fetched or derived from any native exchange resolution.
var ErrUnbuildable = errors.New("history is unbuildable for this market and time frame")

// fetchPlan describes how to materialize one time frame from exchange
// data: fetch native candles at nativeResolution and aggregate factor of
// them per target bucket.
type fetchPlan struct {
	nativeResolution string
	nativeMs         int64
	factor           int
}

func planFor(tf string, xm models.ExchangeMarket) (fetchPlan, error) {
	meta, err := timeframe.Parse(tf)
	if err != nil {
		return fetchPlan{}, err
	}
	if xm.IsBinance() {
		return binancePlan(meta)
	}
	return bybitPlan(meta)
}

func contains(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}

// binancePlan maps a time frame to Binance kline intervals. Month and
// year frames are epoch-aligned fixed spans here, so they aggregate from
// daily candles rather than Binance's calendar "1M".
func binancePlan(meta timeframe.Meta) (fetchPlan, error) {
	direct := func(interval string, unitMs int64) fetchPlan {
		return fetchPlan{nativeResolution: interval, nativeMs: unitMs * int64(meta.Amount), factor: 1}
	}
	derived := func(interval string, unitMs int64, factor int) fetchPlan {
		return fetchPlan{nativeResolution: interval, nativeMs: unitMs, factor: factor}
	}

	const (
		secondMs = int64(1000)
		minuteMs = 60 * secondMs
		hourMs   = 60 * minuteMs
		dayMs    = 24 * hourMs
		weekMs   = 7 * dayMs
	)

	switch meta.Unit {
	case "s":
		if meta.Amount == 1 {
			return direct("1s", secondMs), nil
		}
		return derived("1s", secondMs, meta.Amount), nil
	case "m":
		if contains([]int{1, 3, 5, 15, 30}, meta.Amount) {
			return direct(strconv.Itoa(meta.Amount)+"m", minuteMs), nil
		}
		return derived("1m", minuteMs, meta.Amount), nil
	case "h":
		if contains([]int{1, 2, 4, 6, 8, 12}, meta.Amount) {
			return direct(strconv.Itoa(meta.Amount)+"h", hourMs), nil
		}
		return derived("1h", hourMs, meta.Amount), nil
	case "d":
		if contains([]int{1, 3}, meta.Amount) {
			return direct(strconv.Itoa(meta.Amount)+"d", dayMs), nil
		}
		return derived("1d", dayMs, meta.Amount), nil
	case "w":
		if meta.Amount == 1 {
			return direct("1w", weekMs), nil
		}
		return derived("1w", weekMs, meta.Amount), nil
	case "M":
		return derived("1d", dayMs, meta.Amount*30), nil
	case "y":
		return derived("1d", dayMs, meta.Amount*365), nil
	}
	return fetchPlan{}, ErrUnbuildable
}

// bybitPlan maps a time frame to Bybit v5 kline intervals. Bybit has no
// second-level klines and nothing a yearly frame could be derived from
// within its page limits.
func bybitPlan(meta timeframe.Meta) (fetchPlan, error) {
	const (
		minuteMs = int64(60 * 1000)
		hourMs   = 60 * minuteMs
		dayMs    = 24 * hourMs
		weekMs   = 7 * dayMs
	)

	direct := func(interval string, unitMs int64) fetchPlan {
		return fetchPlan{nativeResolution: interval, nativeMs: unitMs * int64(meta.Amount), factor: 1}
	}
	derived := func(interval string, unitMs int64, factor int) fetchPlan {
		return fetchPlan{nativeResolution: interval, nativeMs: unitMs, factor: factor}
	}

	switch meta.Unit {
	case "s", "y":
		return fetchPlan{}, ErrUnbuildable
	case "m":
		if contains([]int{1, 3, 5, 15, 30}, meta.Amount) {
			return direct(strconv.Itoa(meta.Amount), minuteMs), nil
		}
		return derived("1", minuteMs, meta.Amount), nil
	case "h":
		minutes := meta.Amount * 60
		if contains([]int{60, 120, 240, 360, 720}, minutes) {
			return fetchPlan{nativeResolution: strconv.Itoa(minutes), nativeMs: int64(minutes) * minuteMs, factor: 1}, nil
		}
		return derived("60", hourMs, meta.Amount), nil
	case "d":
		if meta.Amount == 1 {
			return direct("D", dayMs), nil
		}
		return derived("D", dayMs, meta.Amount), nil
	case "w":
		if meta.Amount == 1 {
			return direct("W", weekMs), nil
		}
		return derived("W", weekMs, meta.Amount), nil
	case "M":
		// Months are epoch-aligned 30-day spans, not Bybit's calendar "M".
		return derived("D", dayMs, meta.Amount*30), nil
	}
	return fetchPlan{}, ErrUnbuildable
}
