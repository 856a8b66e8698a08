package risk

import (
	"time"
)

// DailyRiskState is the realized P/L booked on one trading day of the bar clock.
type DailyRiskState struct {
	TradingDay  time.Time `json:"trading_day"`
	RealizedPnL float64   `json:"realized_pnl"`
}

// DailyGuard blocks new entries once the day's realized loss reaches the cap.
type DailyGuard struct {
	capFraction float64
	loc         *time.Location
	state       DailyRiskState
	started     bool
}

// NewDailyGuard creates a guard. A non-positive cap disables blocking.
func NewDailyGuard(capFraction float64, loc *time.Location) *DailyGuard {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyGuard{capFraction: capFraction, loc: loc}
}

// Roll starts a new trading day when t falls on a different date than the
// stored one. It reports true when a reset happened, including the first bar.
func (g *DailyGuard) Roll(t time.Time) bool {
	local := t.In(g.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
	if g.started && day.Equal(g.state.TradingDay) {
		return false
	}
	g.started = true
	g.state = DailyRiskState{TradingDay: day}
	return true
}

// Record adds a closed trade's P/L to today's total.
func (g *DailyGuard) Record(pnl float64) {
	g.state.RealizedPnL += pnl
}

// Blocked reports whether today's realized loss has reached cap × equity.
func (g *DailyGuard) Blocked(equity float64) bool {
	if g.capFraction <= 0 || equity <= 0 {
		return false
	}
	return g.state.RealizedPnL <= -g.capFraction*equity
}

// Limit returns the money loss that trips the guard at the given equity.
func (g *DailyGuard) Limit(equity float64) float64 {
	return g.capFraction * equity
}

// State returns a copy of the current day's bookkeeping.
func (g *DailyGuard) State() DailyRiskState { return g.state }
