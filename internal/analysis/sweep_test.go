package analysis

import (
	"math"
	"testing"

	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// flatSeries builds lookback bars ranging between low and high.
func flatSeries(t *testing.T, n int, high, low float64) *market.Series {
	t.Helper()
	s := market.NewSeries(64)
	for i := 0; i < n; i++ {
		mid := (high + low) / 2
		if err := s.Push(mk(i, mid, high, low, mid)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	return s
}

func TestSweepLong(t *testing.T) {
	tests := []struct {
		name  string
		low   float64
		close float64
		fires bool
	}{
		{"pierces and reclaims", 99.7, 100.3, true},
		{"pierce below threshold", 99.9, 100.3, false},
		{"closes below level", 99.7, 99.95, false},
		{"no pierce", 100.0, 100.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := flatSeries(t, 5, 104, 100)
			if err := s.Push(mk(5, 101, 101.5, tt.low, tt.close)); err != nil {
				t.Fatalf("push: %v", err)
			}
			sd := NewSweepDetector(5, 0.1)
			ev, ok := sd.Detect(s, market.Long, 2)
			if ok != tt.fires {
				t.Fatalf("expected fires=%v, got %v (%+v)", tt.fires, ok, ev)
			}
			if !ok {
				return
			}
			if ev.Level != 100 || ev.Extreme != tt.low {
				t.Errorf("unexpected levels: %+v", ev)
			}
			if math.Abs(ev.Pierce-0.3) > 1e-9 {
				t.Errorf("expected pierce 0.3, got %f", ev.Pierce)
			}
		})
	}
}

func TestSweepShortMirror(t *testing.T) {
	s := flatSeries(t, 5, 100, 96)
	if err := s.Push(mk(5, 99, 100.3, 98.5, 99.7)); err != nil {
		t.Fatalf("push: %v", err)
	}
	sd := NewSweepDetector(5, 0.1)
	ev, ok := sd.Detect(s, market.Short, 2)
	if !ok {
		t.Fatalf("expected short sweep")
	}
	if ev.Level != 100 || ev.Extreme != 100.3 || ev.Direction != market.Short {
		t.Errorf("unexpected event: %+v", ev)
	}

	s2 := flatSeries(t, 5, 100, 96)
	_ = s2.Push(mk(5, 99, 100.1, 98.5, 99.7))
	if _, ok := NewSweepDetector(5, 0.1).Detect(s2, market.Short, 2); ok {
		t.Errorf("0.1 pierce must not pass a 0.2 threshold")
	}
}

func TestSweepNeedsFullLookback(t *testing.T) {
	s := flatSeries(t, 3, 104, 100)
	_ = s.Push(mk(3, 101, 101.5, 99, 100.5))
	if _, ok := NewSweepDetector(5, 0.1).Detect(s, market.Long, 1); ok {
		t.Fatalf("sweep must not fire before the lookback is filled")
	}
}

func TestSweepFiresOncePerBar(t *testing.T) {
	s := flatSeries(t, 5, 104, 100)
	_ = s.Push(mk(5, 101, 101.5, 99.5, 100.3))
	sd := NewSweepDetector(5, 0.1)
	if _, ok := sd.Detect(s, market.Long, 1); !ok {
		t.Fatalf("expected first detection")
	}
	if _, ok := sd.Detect(s, market.Long, 1); ok {
		t.Fatalf("same bar must not fire twice")
	}
}

func TestSweepIgnoresInactiveDirection(t *testing.T) {
	s := flatSeries(t, 5, 104, 100)
	_ = s.Push(mk(5, 101, 105, 99, 101))
	if _, ok := NewSweepDetector(5, 0.1).Detect(s, market.None, 1); ok {
		t.Fatalf("NONE must never sweep")
	}
}

func TestVolatilityUnit(t *testing.T) {
	tests := []struct {
		v        float64
		ok       bool
		expected float64
	}{
		{2.5, true, 2.5},
		{2.5, false, 1},
		{0, true, 1},
		{-1, true, 1},
		{math.NaN(), true, 1},
		{math.Inf(1), true, 1},
	}
	for _, tt := range tests {
		if got := VolatilityUnit(tt.v, tt.ok); got != tt.expected {
			t.Errorf("VolatilityUnit(%v, %v) = %v, expected %v", tt.v, tt.ok, got, tt.expected)
		}
	}
}
