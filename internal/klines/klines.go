// Package klines turns canonical trades into OHLCV candles and provides
// the gap-fill and resampling helpers the state manager and history
// loader build on.
package klines

import (
	"candlescan/internal/models"
	"candlescan/internal/timeframe"
)

// Build builds or advances a kline for one trade on one time frame.
//
// If ref belongs to the same bucket as the trade, a copy of ref updated
// in place (low/high/close/volume) is returned. Otherwise a fresh candle
// opened at the trade's bucket boundary is returned.
func Build(trade models.Trade, tf string, ref *models.OHLCV) (models.OHLCV, error) {
	openTime, err := timeframe.OpenTime(trade.Timestamp, tf)
	if err != nil {
		return models.OHLCV{}, err
	}

	if ref != nil && ref.OpenTime() == openTime {
		k := *ref
		if trade.Price < k[models.PosLow] {
			k[models.PosLow] = trade.Price
		}
		if trade.Price > k[models.PosHigh] {
			k[models.PosHigh] = trade.Price
		}
		k[models.PosClose] = trade.Price
		k[models.PosVolume] += trade.Amount
		return k, nil
	}

	return models.NewOHLCV(openTime, trade.Price, trade.Price, trade.Price, trade.Price, trade.Amount), nil
}

// GapsCount returns the number of missing klines strictly between two
// consecutive stored open times.
func GapsCount(prevOpenTime, nextOpenTime int64, tf string) (int, error) {
	ms, err := timeframe.ToMilliseconds(tf)
	if err != nil {
		return 0, err
	}
	diff := (nextOpenTime - prevOpenTime) / ms
	if diff < 1 {
		return 0, nil
	}
	return int(diff) - 1, nil
}

// GenerateMissing synthesizes n flat klines following last: each opens one
// bucket later with OHLC pinned at last's close and zero volume.
func GenerateMissing(last models.OHLCV, n int, tf string) ([]models.OHLCV, error) {
	if n <= 0 {
		return nil, nil
	}
	ms, err := timeframe.ToMilliseconds(tf)
	if err != nil {
		return nil, err
	}

	filled := make([]models.OHLCV, 0, n)
	pin := last.Close()
	openTime := last.OpenTime()
	for i := 0; i < n; i++ {
		openTime += ms
		filled = append(filled, models.NewOHLCV(openTime, pin, pin, pin, pin, 0))
	}
	return filled, nil
}

// FillMissing returns a copy of list with every internal gap filled by
// synthetic flat klines. The input must be ordered oldest to newest.
func FillMissing(list []models.OHLCV, tf string) ([]models.OHLCV, error) {
	ms, err := timeframe.ToMilliseconds(tf)
	if err != nil {
		return nil, err
	}
	return FillMissingMs(list, ms), nil
}

// FillMissingMs is FillMissing for a bucket width given directly in
// milliseconds. Native exchange resolutions have no time-frame token.
func FillMissingMs(list []models.OHLCV, ms int64) []models.OHLCV {
	filled := make([]models.OHLCV, 0, len(list))
	for i, k := range list {
		if i == 0 {
			filled = append(filled, k)
			continue
		}

		prev := filled[len(filled)-1]
		pin := prev.Close()
		for openTime := prev.OpenTime() + ms; openTime < k.OpenTime(); openTime += ms {
			filled = append(filled, models.NewOHLCV(openTime, pin, pin, pin, pin, 0))
		}
		filled = append(filled, k)
	}
	return filled
}

// Resample aggregates candles fetched at a finer resolution into buckets
// of factor candles each: open=first, high=max, low=min, close=last,
// volume=sum. A trailing partial bucket is kept, aggregated from what is
// there.
func Resample(list []models.OHLCV, factor int) []models.OHLCV {
	if factor <= 1 || len(list) == 0 {
		return list
	}

	out := make([]models.OHLCV, 0, (len(list)+factor-1)/factor)
	for start := 0; start < len(list); start += factor {
		end := start + factor
		if end > len(list) {
			end = len(list)
		}

		bucket := list[start]
		for _, k := range list[start+1 : end] {
			if k[models.PosHigh] > bucket[models.PosHigh] {
				bucket[models.PosHigh] = k[models.PosHigh]
			}
			if k[models.PosLow] < bucket[models.PosLow] {
				bucket[models.PosLow] = k[models.PosLow]
			}
			bucket[models.PosClose] = k[models.PosClose]
			bucket[models.PosVolume] += k[models.PosVolume]
		}
		out = append(out, bucket)
	}
	return out
}
