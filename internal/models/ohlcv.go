package models

// OHLCV is the canonical candle representation used everywhere in the
// pipeline: a fixed 6-element tuple of
// [openTime(ms), open, high, low, close, volume].
// It marshals to a plain JSON array, which is what downstream consumers
// and charting frontends expect.
type OHLCV [6]float64

// Tuple positions inside an OHLCV.
const (
	PosTime = iota
	PosOpen
	PosHigh
	PosLow
	PosClose
	PosVolume
)

func (k OHLCV) OpenTime() int64 { return int64(k[PosTime]) }
func (k OHLCV) Open() float64   { return k[PosOpen] }
func (k OHLCV) High() float64   { return k[PosHigh] }
func (k OHLCV) Low() float64    { return k[PosLow] }
func (k OHLCV) Close() float64  { return k[PosClose] }
func (k OHLCV) Volume() float64 { return k[PosVolume] }

// NewOHLCV builds a candle tuple from discrete fields.
func NewOHLCV(openTime int64, open, high, low, close, volume float64) OHLCV {
	return OHLCV{float64(openTime), open, high, low, close, volume}
}
