package history

import (
	"testing"

	"candlescan/internal/models"
)

func TestBinancePlans(t *testing.T) {
	cases := []struct {
		tf       string
		native   string
		nativeMs int64
		factor   int
	}{
		{"1s", "1s", 1_000, 1},
		{"10s", "1s", 1_000, 10},
		{"5m", "5m", 300_000, 1},
		{"7m", "1m", 60_000, 7},
		{"4h", "4h", 14_400_000, 1},
		{"5h", "1h", 3_600_000, 5},
		{"1d", "1d", 86_400_000, 1},
		{"1w", "1w", 604_800_000, 1},
		{"1M", "1d", 86_400_000, 30},
		{"1y", "1d", 86_400_000, 365},
	}
	for _, c := range cases {
		t.Run(c.tf, func(t *testing.T) {
			plan, err := planFor(c.tf, models.BinanceSpot)
			if err != nil {
				t.Fatal(err)
			}
			if plan.nativeResolution != c.native {
				t.Errorf("native = %s, want %s", plan.nativeResolution, c.native)
			}
			if plan.nativeMs != c.nativeMs {
				t.Errorf("nativeMs = %d, want %d", plan.nativeMs, c.nativeMs)
			}
			if plan.factor != c.factor {
				t.Errorf("factor = %d, want %d", plan.factor, c.factor)
			}
		})
	}
}

func TestBybitPlans(t *testing.T) {
	cases := []struct {
		tf     string
		native string
		factor int
	}{
		{"1m", "1", 1},
		{"7m", "1", 7},
		{"1h", "60", 1},
		{"2h", "120", 1},
		{"5h", "60", 5},
		{"1d", "D", 1},
		{"1w", "W", 1},
		{"1M", "D", 30},
	}
	for _, c := range cases {
		t.Run(c.tf, func(t *testing.T) {
			plan, err := planFor(c.tf, models.BybitSpot)
			if err != nil {
				t.Fatal(err)
			}
			if plan.nativeResolution != c.native {
				t.Errorf("native = %s, want %s", plan.nativeResolution, c.native)
			}
			if plan.factor != c.factor {
				t.Errorf("factor = %d, want %d", plan.factor, c.factor)
			}
		})
	}
}

func TestBybitUnbuildableFrames(t *testing.T) {
	for _, tf := range []string{"15s", "1y"} {
		if _, err := planFor(tf, models.BybitLinear); err != ErrUnbuildable {
			t.Errorf("planFor(%q, bybit) error = %v, want ErrUnbuildable", tf, err)
		}
	}
}

func TestPlanForInvalidTimeFrame(t *testing.T) {
	if _, err := planFor("bogus", models.BinanceSpot); err == nil {
		t.Error("expected an error")
	}
}

func TestFinalizeNativeFillsGapsBeforeResample(t *testing.T) {
	const minuteMs = int64(60_000)
	base := int64(1_700_000_040_000) // multiple of 2m

	native := func(openTime int64, close float64) models.OHLCV {
		return models.NewOHLCV(openTime, close, close+1, close-1, close, 1)
	}

	// The base+2m bucket is missing; a thin market produced no trades in
	// that minute.
	list := []models.OHLCV{
		native(base, 10),
		native(base+minuteMs, 11),
		native(base+3*minuteMs, 13),
		native(base+4*minuteMs, 14),
	}
	plan := fetchPlan{nativeResolution: "1", nativeMs: minuteMs, factor: 2}

	out := finalizeNative(list, plan, base+5*minuteMs)
	if len(out) != 3 {
		t.Fatalf("got %d buckets, want 3", len(out))
	}
	for i, k := range out {
		want := base + int64(i)*2*minuteMs
		if k.OpenTime() != want {
			t.Errorf("bucket %d opens at %d, want %d", i, k.OpenTime(), want)
		}
	}
	// The filled minute is flat at the previous close with zero volume, so
	// the second bucket aggregates it with the real base+3m candle.
	if out[1].Open() != 11 || out[1].Close() != 13 || out[1].Volume() != 1 {
		t.Errorf("unexpected aggregation over the filled bucket: %v", out[1])
	}
}

func TestFinalizeNativeTrimsReferenceBucket(t *testing.T) {
	const minuteMs = int64(60_000)
	base := int64(1_700_000_040_000)

	list := []models.OHLCV{
		models.NewOHLCV(base, 10, 11, 9, 10, 1),
		models.NewOHLCV(base+minuteMs, 11, 12, 10, 11, 1),
	}
	plan := fetchPlan{nativeResolution: "1", nativeMs: minuteMs, factor: 1}

	out := finalizeNative(list, plan, base+minuteMs)
	if len(out) != 1 || out[0].OpenTime() != base {
		t.Errorf("rows at or past endTime should be dropped, got %v", out)
	}
}
