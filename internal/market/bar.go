// Package market holds the bar, direction and session primitives shared by the
// detectors, the order lifecycle and the engine.
package market

import (
	"math"
	"time"
)

// Bar is one OHLC candle of the base timeframe.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Body returns the absolute open-to-close distance.
func (b Bar) Body() float64 {
	return math.Abs(b.Close - b.Open)
}

// IsBullish reports a close above the open.
func (b Bar) IsBullish() bool { return b.Close > b.Open }

// IsBearish reports a close below the open.
func (b Bar) IsBearish() bool { return b.Close < b.Open }

// Direction is a trade or bias direction.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	None  Direction = "NONE"
)

// Sign returns +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Opposite returns the reverse direction; None stays None.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return None
	}
}

// IsActive reports whether the direction is long or short.
func (d Direction) IsActive() bool {
	return d == Long || d == Short
}

// Closes reports whether the bar closed in the given direction.
func (b Bar) Closes(d Direction) bool {
	switch d {
	case Long:
		return b.IsBullish()
	case Short:
		return b.IsBearish()
	default:
		return false
	}
}
