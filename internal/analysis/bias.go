package analysis

import (
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// HTFCandle is a synthetic higher-timeframe candle folded from base bars.
type HTFCandle struct {
	High  float64
	Low   float64
	Close float64
	Bars  int
}

// BiasTracker aggregates base bars into higher-timeframe candles and derives
// the directional bias from a break of the previous candle's swing level
// confirmed by the moving average.
type BiasTracker struct {
	ratio     int
	tolerance float64

	current  HTFCandle
	previous *HTFCandle
	bias     market.Direction
	finished int
}

// NewBiasTracker creates a tracker finalizing one candle every ratio bars.
func NewBiasTracker(ratio int, tolerance float64) *BiasTracker {
	if ratio <= 0 {
		ratio = 1
	}
	return &BiasTracker{
		ratio:     ratio,
		tolerance: tolerance,
		bias:      market.None,
	}
}

// Update folds bar into the running candle. On the bar completing the ratio
// the candle is finalized and the bias re-derived; changed reports whether the
// bias flipped on this bar. ma and maOK carry the moving average as of bar.
func (bt *BiasTracker) Update(bar market.Bar, ma float64, maOK bool) (market.Direction, bool) {
	if bt.current.Bars == 0 {
		bt.current = HTFCandle{High: bar.High, Low: bar.Low}
	} else {
		if bar.High > bt.current.High {
			bt.current.High = bar.High
		}
		if bar.Low < bt.current.Low {
			bt.current.Low = bar.Low
		}
	}
	bt.current.Close = bar.Close
	bt.current.Bars++

	if bt.current.Bars < bt.ratio {
		return bt.bias, false
	}

	done := bt.current
	bt.current = HTFCandle{}
	bt.finished++

	prev := bt.previous
	bt.previous = &done
	if prev == nil || !maOK {
		return bt.bias, false
	}

	next := bt.bias
	switch {
	case done.Close > ma && done.Close > prev.High*(1+bt.tolerance):
		next = market.Long
	case done.Close < ma && done.Close < prev.Low*(1-bt.tolerance):
		next = market.Short
	}
	if next == bt.bias {
		return bt.bias, false
	}
	bt.bias = next
	return bt.bias, true
}

// Force overrides the bias from an external higher-timeframe feed.
func (bt *BiasTracker) Force(d market.Direction) bool {
	if d == bt.bias {
		return false
	}
	bt.bias = d
	return true
}

// Bias returns the current bias.
func (bt *BiasTracker) Bias() market.Direction { return bt.bias }

// Previous returns the last finalized candle, if any.
func (bt *BiasTracker) Previous() (HTFCandle, bool) {
	if bt.previous == nil {
		return HTFCandle{}, false
	}
	return *bt.previous, true
}
