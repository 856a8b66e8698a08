// Package risk converts a risk budget into a position size and tracks the
// per-day realized loss cap.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// Sizer computes fixed-fractional position sizes bounded by margin.
type Sizer struct {
	RiskFraction  float64
	Leverage      float64
	Multiplier    float64
	SizeIncrement float64
}

// Sizing is the breakdown of one sizing decision.
type Sizing struct {
	Size          float64
	RiskAmount    float64
	RawSize       float64
	MaxAffordable float64
	Capped        bool
}

// Size returns the number of contracts to trade for a stop at stop and an
// entry at entry. A zero Size means do not trade.
func (s Sizer) Size(entry, stop, equity, cash float64) Sizing {
	if entry <= 0 || stop <= 0 || equity <= 0 || cash <= 0 ||
		s.RiskFraction <= 0 || s.Leverage <= 0 || s.Multiplier <= 0 || entry == stop {
		return Sizing{}
	}

	mult := decimal.NewFromFloat(s.Multiplier)
	entryD := decimal.NewFromFloat(entry)
	distance := entryD.Sub(decimal.NewFromFloat(stop)).Abs()

	riskAmount := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(s.RiskFraction))
	raw := riskAmount.Div(distance.Mul(mult))
	maxAffordable := decimal.NewFromFloat(cash).Mul(decimal.NewFromFloat(s.Leverage)).Div(entryD.Mul(mult))

	out := Sizing{
		RiskAmount:    riskAmount.InexactFloat64(),
		RawSize:       raw.InexactFloat64(),
		MaxAffordable: maxAffordable.InexactFloat64(),
	}

	size := raw
	if size.GreaterThan(maxAffordable) {
		size = maxAffordable
		out.Capped = true
	}
	out.Size = market.TruncateToIncrement(size.InexactFloat64(), s.SizeIncrement)
	return out
}
