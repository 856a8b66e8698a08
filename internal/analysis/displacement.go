package analysis

import (
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// DisplacementEvent is the impulse candle that confirms a sweep together with
// the zones it left behind.
type DisplacementEvent struct {
	Direction   market.Direction
	ImpulseHigh float64
	ImpulseLow  float64
	Gap         Zone
	OrderBlock  Zone
	Bar         market.Bar
}

// Extreme returns the impulse high for a long displacement and the impulse
// low for a short one.
func (d DisplacementEvent) Extreme() float64 {
	if d.Direction == market.Short {
		return d.ImpulseLow
	}
	return d.ImpulseHigh
}

// DisplacementDetector confirms a momentum impulse in the setup direction.
type DisplacementDetector struct {
	bodyRatio float64
}

// NewDisplacementDetector requires bodies of at least bodyRatio volatility units.
func NewDisplacementDetector(bodyRatio float64) *DisplacementDetector {
	return &DisplacementDetector{bodyRatio: bodyRatio}
}

// Detect checks the latest bar of series for an impulse in direction dir.
func (dd *DisplacementDetector) Detect(series *market.Series, dir market.Direction, vol float64) (DisplacementEvent, bool) {
	cur, ok := series.Current()
	if !ok || !dir.IsActive() {
		return DisplacementEvent{}, false
	}
	if cur.Body() < dd.bodyRatio*vol || !cur.Closes(dir) {
		return DisplacementEvent{}, false
	}

	ev := DisplacementEvent{
		Direction:   dir,
		ImpulseHigh: cur.High,
		ImpulseLow:  cur.Low,
		Bar:         cur,
	}
	if prior, ok := series.Ago(1); ok {
		ev.OrderBlock = OrderBlock(prior, dir)
	}
	if first, ok := series.Ago(2); ok {
		ev.Gap = FairValueGap(first, cur, dir)
	}
	return ev, true
}
