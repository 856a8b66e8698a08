// Package indicator supplies the volatility and moving-average readings the
// setup engine consumes, computed bar by bar with go-talib.
package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// Reading is the indicator state as of one bar. The OK flags are false
// until enough bars have been seen.
type Reading struct {
	Volatility      float64 `json:"volatility"`
	VolatilityOK    bool    `json:"volatility_ok"`
	MovingAverage   float64 `json:"moving_average"`
	MovingAverageOK bool    `json:"moving_average_ok"`
}

// Streaming evaluates ATR and EMA incrementally. go-talib seeds each series
// from the warm-up bars; later bars extend the same recursion, so readings
// equal talib's over the whole history.
type Streaming struct {
	atrPeriod int
	maPeriod  int

	// warm-up bars, released once every enabled series is seeded
	highs  []float64
	lows   []float64
	closes []float64

	bars      int
	prevClose float64
	atr       float64
	atrOK     bool
	ema       float64
	emaOK     bool
}

// NewStreaming creates a provider for the given ATR and EMA periods. A
// non-positive period disables that series.
func NewStreaming(atrPeriod, maPeriod int) *Streaming {
	return &Streaming{atrPeriod: atrPeriod, maPeriod: maPeriod}
}

// Next folds bar into both series and returns the readings that include it.
func (s *Streaming) Next(bar market.Bar) Reading {
	s.bars++
	if !s.seeded() {
		s.highs = append(s.highs, bar.High)
		s.lows = append(s.lows, bar.Low)
		s.closes = append(s.closes, bar.Close)
	}

	if s.atrPeriod > 0 {
		switch {
		case s.atrOK:
			p := float64(s.atrPeriod)
			s.atr = (s.atr*(p-1) + trueRange(bar, s.prevClose)) / p
		// talib indexes past the input when it is shorter than the lookback.
		case s.bars > s.atrPeriod:
			atr := talib.Atr(s.highs, s.lows, s.closes, s.atrPeriod)
			s.atr, s.atrOK = atr[len(atr)-1], true
		}
	}
	if s.maPeriod > 0 {
		switch {
		case s.emaOK:
			k := 2.0 / float64(s.maPeriod+1)
			s.ema = (bar.Close-s.ema)*k + s.ema
		case s.bars >= s.maPeriod:
			ema := talib.Ema(s.closes, s.maPeriod)
			s.ema, s.emaOK = ema[len(ema)-1], true
		}
	}
	s.prevClose = bar.Close
	if s.seeded() {
		s.highs, s.lows, s.closes = nil, nil, nil
	}

	var r Reading
	if s.atrOK {
		r.Volatility, r.VolatilityOK = valid(s.atr)
	}
	if s.emaOK {
		r.MovingAverage, r.MovingAverageOK = valid(s.ema)
	}
	return r
}

func (s *Streaming) seeded() bool {
	return (s.atrPeriod <= 0 || s.atrOK) && (s.maPeriod <= 0 || s.emaOK)
}

func trueRange(bar market.Bar, prevClose float64) float64 {
	return math.Max(bar.High-bar.Low, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}

func valid(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}
