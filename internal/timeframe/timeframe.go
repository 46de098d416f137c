// Package timeframe holds the pure time-frame arithmetic the whole
// pipeline leans on: token parsing, millisecond conversion and candle
// open-time boundary math.
package timeframe

import (
	"fmt"
	"sort"
	"strconv"
)

// ErrInvalidTimeFrame reports a malformed time-frame token.
type ErrInvalidTimeFrame struct {
	TimeFrame string
	Reason    string
}

func (e *ErrInvalidTimeFrame) Error() string {
	return fmt.Sprintf("invalid time frame %q: %s", e.TimeFrame, e.Reason)
}

// Meta is a parsed time-frame token.
type Meta struct {
	Unit   string
	Amount int
}

// Seconds per unit. Months are fixed 30 days and years 365 days; candle
// boundaries are epoch-aligned, not calendar-aligned.
var unitScale = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 60 * 60,
	"d": 60 * 60 * 24,
	"w": 60 * 60 * 24 * 7,
	"M": 60 * 60 * 24 * 30,
	"y": 60 * 60 * 24 * 365,
}

// Unit precedence for ordering, smallest first.
var unitOrder = []string{"s", "m", "h", "d", "w", "M", "y"}

// Parse splits a token like "5m" into its unit and amount.
func Parse(tf string) (Meta, error) {
	if len(tf) < 2 {
		return Meta{}, &ErrInvalidTimeFrame{TimeFrame: tf, Reason: "too short"}
	}

	unit := tf[len(tf)-1:]
	if _, ok := unitScale[unit]; !ok {
		return Meta{}, &ErrInvalidTimeFrame{TimeFrame: tf, Reason: "unknown unit " + unit}
	}

	amount, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil {
		return Meta{}, &ErrInvalidTimeFrame{TimeFrame: tf, Reason: "non-numeric amount"}
	}
	if amount < 1 {
		return Meta{}, &ErrInvalidTimeFrame{TimeFrame: tf, Reason: "amount < 1"}
	}

	return Meta{Unit: unit, Amount: amount}, nil
}

// ToMilliseconds converts a time-frame token to its bucket width in ms.
func ToMilliseconds(tf string) (int64, error) {
	meta, err := Parse(tf)
	if err != nil {
		return 0, err
	}
	return int64(meta.Amount) * unitScale[meta.Unit] * 1000, nil
}

// OpenTime floors ts to the opening time of the kline containing it.
func OpenTime(ts int64, tf string) (int64, error) {
	ms, err := ToMilliseconds(tf)
	if err != nil {
		return 0, err
	}
	return openTimeMs(ts, ms), nil
}

func openTimeMs(ts, ms int64) int64 {
	return ts / ms * ms
}

// NthPreviousOpenTime returns the open time n klines before the kline
// containing ts.
func NthPreviousOpenTime(ts int64, tf string, n int) (int64, error) {
	ms, err := ToMilliseconds(tf)
	if err != nil {
		return 0, err
	}
	return openTimeMs(ts, ms) - ms*int64(n), nil
}

// NthNextOpenTime returns the open time n klines after the kline
// containing ts.
func NthNextOpenTime(ts int64, tf string, n int) (int64, error) {
	ms, err := ToMilliseconds(tf)
	if err != nil {
		return 0, err
	}
	return openTimeMs(ts, ms) + ms*int64(n), nil
}

// Order sorts time-frame tokens by unit precedence (s<m<h<d<w<M<y), then
// by amount within a unit. Unparseable tokens are dropped. Used for
// display and config normalization only.
func Order(tfs []string) []string {
	byUnit := make(map[string][]int)
	for _, tf := range tfs {
		meta, err := Parse(tf)
		if err != nil {
			continue
		}
		byUnit[meta.Unit] = append(byUnit[meta.Unit], meta.Amount)
	}

	ordered := make([]string, 0, len(tfs))
	for _, unit := range unitOrder {
		amounts := byUnit[unit]
		sort.Ints(amounts)
		for _, amount := range amounts {
			ordered = append(ordered, strconv.Itoa(amount)+unit)
		}
	}
	return ordered
}
