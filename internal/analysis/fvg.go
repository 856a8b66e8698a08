package analysis

import (
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// Zone is a price band. Present is false when the structure that would have
// produced the band was not found.
type Zone struct {
	Top     float64
	Bottom  float64
	Present bool
}

// Mid returns the midpoint of the band.
func (z Zone) Mid() float64 {
	return (z.Top + z.Bottom) / 2
}

// Contains checks if price is within the band, bounds inclusive.
func (z Zone) Contains(price float64) bool {
	return z.Present && price >= z.Bottom && price <= z.Top
}

// Overlaps reports whether two present zones share any price.
func (z Zone) Overlaps(other Zone) bool {
	if !z.Present || !other.Present {
		return false
	}
	return z.Bottom <= other.Top && other.Bottom <= z.Top
}

// FairValueGap returns the three-bar imbalance left by an impulse bar.
// first is the bar two periods before the impulse.
//
// Bullish: gap between first.High and impulse.Low (impulse.Low above first.High).
// Bearish: gap between impulse.High and first.Low (impulse.High below first.Low).
func FairValueGap(first, impulse market.Bar, dir market.Direction) Zone {
	switch dir {
	case market.Long:
		return Zone{
			Top:     impulse.Low,
			Bottom:  first.High,
			Present: impulse.Low > first.High,
		}
	case market.Short:
		return Zone{
			Top:     first.Low,
			Bottom:  impulse.High,
			Present: impulse.High < first.Low,
		}
	default:
		return Zone{}
	}
}

// OrderBlock returns the range of the bar preceding an impulse. The zone is
// only present when that bar opposes the impulse: a down candle before a long
// impulse or an up candle before a short one.
func OrderBlock(prior market.Bar, dir market.Direction) Zone {
	return Zone{
		Top:     prior.High,
		Bottom:  prior.Low,
		Present: prior.Closes(dir.Opposite()),
	}
}
