package timeframe

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Run("valid tokens", func(t *testing.T) {
		cases := []struct {
			tf     string
			unit   string
			amount int
		}{
			{"1s", "s", 1},
			{"15s", "s", 15},
			{"5m", "m", 5},
			{"4h", "h", 4},
			{"1d", "d", 1},
			{"1w", "w", 1},
			{"3M", "M", 3},
			{"1y", "y", 1},
		}
		for _, c := range cases {
			meta, err := Parse(c.tf)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", c.tf, err)
			}
			if meta.Unit != c.unit || meta.Amount != c.amount {
				t.Errorf("Parse(%q) = %+v, want unit=%s amount=%d", c.tf, meta, c.unit, c.amount)
			}
		}
	})

	t.Run("invalid tokens", func(t *testing.T) {
		for _, tf := range []string{"", "m", "5x", "xm", "0m", "-1h", "1.5m"} {
			if _, err := Parse(tf); err == nil {
				t.Errorf("Parse(%q) should fail", tf)
			}
			var invalid *ErrInvalidTimeFrame
			if _, err := Parse(tf); !errors.As(err, &invalid) {
				t.Errorf("Parse(%q) error should be ErrInvalidTimeFrame, got %v", tf, err)
			}
		}
	})
}

func TestToMilliseconds(t *testing.T) {
	cases := []struct {
		tf   string
		want int64
	}{
		{"1s", 1000},
		{"1m", 60_000},
		{"5m", 300_000},
		{"1h", 3_600_000},
		{"1d", 86_400_000},
		{"1w", 604_800_000},
		{"1M", 2_592_000_000},
		{"1y", 31_536_000_000},
	}
	for _, c := range cases {
		got, err := ToMilliseconds(c.tf)
		if err != nil {
			t.Fatalf("ToMilliseconds(%q) failed: %v", c.tf, err)
		}
		if got != c.want {
			t.Errorf("ToMilliseconds(%q) = %d, want %d", c.tf, got, c.want)
		}
	}
}

func TestOpenTime(t *testing.T) {
	// 90s past a 5m boundary floors back to it.
	base := int64(1_700_000_100_000) // multiple of 300000
	got, err := OpenTime(base+90_000, "5m")
	if err != nil {
		t.Fatal(err)
	}
	if got != base {
		t.Errorf("OpenTime = %d, want %d", got, base)
	}

	// A timestamp exactly on a boundary is its own open time.
	got, err = OpenTime(base, "5m")
	if err != nil {
		t.Fatal(err)
	}
	if got != base {
		t.Errorf("OpenTime on boundary = %d, want %d", got, base)
	}
}

func TestNthPreviousAndNextOpenTime(t *testing.T) {
	base := int64(1_700_000_100_000)
	ts := base + 42_000

	prev, err := NthPreviousOpenTime(ts, "5m", 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := base - 3*300_000; prev != want {
		t.Errorf("NthPreviousOpenTime = %d, want %d", prev, want)
	}

	next, err := NthNextOpenTime(ts, "5m", 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := base + 2*300_000; next != want {
		t.Errorf("NthNextOpenTime = %d, want %d", next, want)
	}
}

func TestOrder(t *testing.T) {
	got := Order([]string{"1h", "5m", "1y", "30s", "1m", "bogus", "15m"})
	want := []string{"30s", "1m", "5m", "15m", "1h", "1y"}
	if len(got) != len(want) {
		t.Fatalf("Order returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Order[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
