// Package confluence turns a confirmed sweep and displacement into an entry
// zone with stop and target levels, and scores how many independent filters
// agree with the setup.
package confluence

import (
	"math"

	"github.com/VeinDevTtv/vein-smc-bot/internal/analysis"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// Params configures the zone geometry and the score gate.
type Params struct {
	QuoteIncrement float64
	BandLow        float64
	BandHigh       float64
	StopBuffer     float64
	RRTarget       float64
	Filters        []Filter
	MinScore       int
}

// Inputs is everything the builder needs about one setup.
type Inputs struct {
	Sweep        analysis.SweepEvent
	Displacement analysis.DisplacementEvent
	InTimeWindow bool
	Bias         market.Direction
}

// Result is the entry plan geometry and its confluence score.
type Result struct {
	Direction market.Direction
	SwingLow  float64
	SwingHigh float64
	ZoneLow   float64
	ZoneHigh  float64
	BandLow   float64
	BandHigh  float64
	Entry     float64
	Stop      float64
	Target    float64
	Score     int
	Satisfied []Filter
	// Valid is false when the swing range is empty or inverted.
	Valid  bool
	Passed bool
}

// Builder computes entry zones.
type Builder struct {
	params Params
	scorer *Scorer
}

// NewBuilder creates a builder.
func NewBuilder(p Params) *Builder {
	return &Builder{params: p, scorer: NewScorer(p.Filters, p.MinScore)}
}

// Build derives the entry zone, stop, target and score for a setup.
func (b *Builder) Build(in Inputs) Result {
	dir := in.Sweep.Direction
	disp := in.Displacement
	res := Result{Direction: dir}

	switch dir {
	case market.Long:
		res.SwingLow, res.SwingHigh = in.Sweep.Extreme, disp.Extreme()
	case market.Short:
		res.SwingLow, res.SwingHigh = disp.Extreme(), in.Sweep.Extreme
	default:
		return res
	}
	rng := res.SwingHigh - res.SwingLow
	res.Valid = rng > 0

	a, c := b.bandLevel(dir, res, rng, b.params.BandLow), b.bandLevel(dir, res, rng, b.params.BandHigh)
	res.BandLow, res.BandHigh = math.Min(a, c), math.Max(a, c)

	candidates := []float64{res.BandLow, res.BandHigh}
	if disp.Gap.Present {
		candidates = append(candidates, disp.Gap.Mid())
	}
	if disp.OrderBlock.Present {
		candidates = append(candidates, disp.OrderBlock.Mid())
	}
	lo, hi := candidates[0], candidates[0]
	for _, v := range candidates[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	res.ZoneLow = clamp(lo, res.SwingLow, res.SwingHigh)
	res.ZoneHigh = clamp(hi, res.SwingLow, res.SwingHigh)

	inc := b.params.QuoteIncrement
	res.Entry = clamp(market.RoundToIncrement((res.ZoneLow+res.ZoneHigh)/2, inc), res.SwingLow, res.SwingHigh)
	res.Stop = market.RoundToIncrement(in.Sweep.Extreme-dir.Sign()*b.params.StopBuffer, inc)
	risk := math.Abs(res.Entry - res.Stop)
	res.Target = market.RoundToIncrement(res.Entry+dir.Sign()*b.params.RRTarget*risk, inc)

	band := analysis.Zone{Top: res.BandHigh, Bottom: res.BandLow, Present: res.Valid}
	satisfied := map[Filter]bool{
		FilterTimeWindow:  in.InTimeWindow,
		FilterBias:        in.Bias == dir,
		FilterSweep:       true,
		FilterGap:         disp.Gap.Present,
		FilterOrderBlock:  disp.OrderBlock.Present,
		FilterRetracement: band.Overlaps(disp.Gap) || band.Overlaps(disp.OrderBlock),
	}
	res.Score, res.Satisfied = b.scorer.Score(satisfied)
	res.Passed = res.Valid && b.scorer.ShouldTrade(res.Score)
	return res
}

// bandLevel measures fraction f of the swing range from the sweep extreme.
func (b *Builder) bandLevel(dir market.Direction, r Result, rng, f float64) float64 {
	if dir == market.Short {
		return r.SwingHigh - f*rng
	}
	return r.SwingLow + f*rng
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
