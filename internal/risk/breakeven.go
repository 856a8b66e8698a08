package risk

import (
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// BreakevenRule decides when a protective stop moves to the entry price.
// Trigger is the open profit, in R multiples, that activates the move.
type BreakevenRule struct {
	Trigger    float64
	Multiplier float64
}

// OpenPnL is the unrealized money P/L of a position marked at price.
func (r BreakevenRule) OpenPnL(dir market.Direction, entry, size, price float64) float64 {
	return (price - entry) * dir.Sign() * size * r.Multiplier
}

// ShouldMove reports whether favourable P/L at price has reached Trigger × risk.
// A position already at breakeven, or one without recorded risk, never moves.
func (r BreakevenRule) ShouldMove(dir market.Direction, entry, size, riskMoney, price float64, atBreakeven bool) bool {
	if atBreakeven || riskMoney <= 0 || !dir.IsActive() {
		return false
	}
	trigger := r.Trigger
	if trigger <= 0 {
		trigger = 1
	}
	return r.OpenPnL(dir, entry, size, price) >= trigger*riskMoney
}
