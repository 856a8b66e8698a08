package analysis

import (
	"testing"

	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

func seriesOf(t *testing.T, bars ...market.Bar) *market.Series {
	t.Helper()
	s := market.NewSeries(16)
	for _, b := range bars {
		if err := s.Push(b); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	return s
}

func TestDisplacementLongWithGapAndOrderBlock(t *testing.T) {
	s := seriesOf(t,
		mk(0, 100, 101, 99, 100.5),  // gap origin, high 101
		mk(1, 100.5, 101, 99.5, 100), // bearish candle, order block
		mk(2, 101, 106, 102, 105.5),  // impulse body 4.5
	)
	dd := NewDisplacementDetector(1.2)
	ev, ok := dd.Detect(s, market.Long, 2)
	if !ok {
		t.Fatalf("expected displacement")
	}
	if ev.ImpulseHigh != 106 || ev.ImpulseLow != 102 || ev.Extreme() != 106 {
		t.Errorf("unexpected impulse range: %+v", ev)
	}
	if !ev.Gap.Present || ev.Gap.Bottom != 101 || ev.Gap.Top != 102 {
		t.Errorf("expected gap 101-102, got %+v", ev.Gap)
	}
	if !ev.OrderBlock.Present || ev.OrderBlock.Top != 101 || ev.OrderBlock.Bottom != 99.5 {
		t.Errorf("expected order block 99.5-101, got %+v", ev.OrderBlock)
	}
}

func TestDisplacementRejectsSmallBody(t *testing.T) {
	s := seriesOf(t,
		mk(0, 100, 101, 99, 100.5),
		mk(1, 100.5, 101, 99.5, 100),
		mk(2, 101, 103, 100.5, 102),
	)
	// Body 1.0 against 1.2 * 2 = 2.4.
	if _, ok := NewDisplacementDetector(1.2).Detect(s, market.Long, 2); ok {
		t.Fatalf("small body must not displace")
	}
}

func TestDisplacementRejectsWrongColor(t *testing.T) {
	s := seriesOf(t,
		mk(0, 100, 101, 99, 100.5),
		mk(1, 105, 106, 99, 100),
	)
	if _, ok := NewDisplacementDetector(1.0).Detect(s, market.Long, 1); ok {
		t.Fatalf("bearish candle must not confirm a long")
	}
	ev, ok := NewDisplacementDetector(1.0).Detect(s, market.Short, 1)
	if !ok {
		t.Fatalf("expected short displacement")
	}
	if ev.Extreme() != 99 {
		t.Errorf("expected short extreme 99, got %f", ev.Extreme())
	}
	if ev.Gap.Present {
		t.Errorf("no gap without three bars")
	}
	if !ev.OrderBlock.Present {
		t.Errorf("bullish prior candle should form a short order block")
	}
}
