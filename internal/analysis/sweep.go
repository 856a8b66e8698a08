package analysis

import (
	"math"
	"time"

	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// VolatilityUnit normalizes an indicator reading. Missing, non-positive or
// NaN values become 1 so thresholds never divide or multiply by zero.
func VolatilityUnit(v float64, ok bool) float64 {
	if !ok || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	return v
}

// SweepEvent records a liquidity sweep of a rolling extreme.
type SweepEvent struct {
	Direction market.Direction
	// Level is the pierced rolling low (long) or high (short).
	Level float64
	// Extreme is the sweep bar's own wick low (long) or high (short).
	Extreme float64
	Pierce  float64
	Bar     market.Bar
}

// SweepDetector looks for a wick through the rolling extreme that closes back
// on the other side of it.
type SweepDetector struct {
	lookback    int
	pierceRatio float64
	lastFired   time.Time
}

// NewSweepDetector creates a detector over a lookback of the given size.
func NewSweepDetector(lookback int, pierceRatio float64) *SweepDetector {
	return &SweepDetector{lookback: lookback, pierceRatio: pierceRatio}
}

// Detect checks the latest bar of series for a sweep in direction dir.
// vol is the volatility unit already normalized by VolatilityUnit.
func (sd *SweepDetector) Detect(series *market.Series, dir market.Direction, vol float64) (SweepEvent, bool) {
	cur, ok := series.Current()
	if !ok || !cur.Time.After(sd.lastFired) {
		return SweepEvent{}, false
	}
	threshold := sd.pierceRatio * vol

	var ev SweepEvent
	switch dir {
	case market.Long:
		level, ok := series.LowestLow(sd.lookback, 1)
		if !ok {
			return SweepEvent{}, false
		}
		pierce := level - cur.Low
		if cur.Low >= level || pierce < threshold || cur.Close <= level {
			return SweepEvent{}, false
		}
		ev = SweepEvent{Direction: dir, Level: level, Extreme: cur.Low, Pierce: pierce, Bar: cur}
	case market.Short:
		level, ok := series.HighestHigh(sd.lookback, 1)
		if !ok {
			return SweepEvent{}, false
		}
		pierce := cur.High - level
		if cur.High <= level || pierce < threshold || cur.Close >= level {
			return SweepEvent{}, false
		}
		ev = SweepEvent{Direction: dir, Level: level, Extreme: cur.High, Pierce: pierce, Bar: cur}
	default:
		return SweepEvent{}, false
	}

	sd.lastFired = cur.Time
	return ev, true
}
