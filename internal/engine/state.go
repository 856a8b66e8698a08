package engine

import (
	"time"

	"github.com/VeinDevTtv/vein-smc-bot/internal/analysis"
	"github.com/VeinDevTtv/vein-smc-bot/internal/indicator"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
	"github.com/VeinDevTtv/vein-smc-bot/internal/order"
	"github.com/VeinDevTtv/vein-smc-bot/internal/risk"
)

// State is a setup state machine state.
type State string

const (
	StateIdle              State = "IDLE"
	StateSweepFound        State = "SWEEP_FOUND"
	StateDisplacementFound State = "DISPLACEMENT_FOUND"
	StateEntrySubmitted    State = "ENTRY_SUBMITTED"
	StateFilled            State = "FILLED"
	StateManaged           State = "MANAGED"
	StateClosed            State = "CLOSED"
	StateExpired           State = "EXPIRED"
	StateScoreRejected     State = "SCORE_REJECTED"
	StateSizeRejected      State = "SIZE_REJECTED"
	StateRejected          State = "REJECTED"
)

// IsTerminal reports whether the state ends a setup cycle.
func (s State) IsTerminal() bool {
	switch s {
	case StateClosed, StateExpired, StateScoreRejected, StateSizeRejected, StateRejected:
		return true
	default:
		return false
	}
}

// PendingSetup is the single in-flight setup.
type PendingSetup struct {
	ID           string                      `json:"id"`
	Direction    market.Direction            `json:"direction"`
	Sweep        analysis.SweepEvent         `json:"sweep"`
	Displacement *analysis.DisplacementEvent `json:"displacement,omitempty"`
	Age          int                         `json:"age"`
	StartedAt    time.Time                   `json:"started_at"`
}

func (p *PendingSetup) clone() *PendingSetup {
	if p == nil {
		return nil
	}
	c := *p
	if p.Displacement != nil {
		d := *p.Displacement
		c.Displacement = &d
	}
	return &c
}

// Stats counts what the engine has done since construction.
type Stats struct {
	Bars          int `json:"bars"`
	Setups        int `json:"setups"`
	Displacements int `json:"displacements"`
	Submitted     int `json:"submitted"`
	Filled        int `json:"filled"`
	ScoreRejected int `json:"score_rejected"`
	SizeRejected  int `json:"size_rejected"`
	Rejected      int `json:"rejected"`
	Expired       int `json:"expired"`
	Invalidated   int `json:"invalidated"`
	Breakevens    int `json:"breakevens"`
	TradesClosed  int `json:"trades_closed"`
	LossCapHits   int `json:"loss_cap_hits"`
}

// Snapshot is a copy of the engine state safe to hand to other goroutines.
type Snapshot struct {
	State        State               `json:"state"`
	LastTerminal State               `json:"last_terminal,omitempty"`
	LastExit     order.Role          `json:"last_exit,omitempty"`
	Bias         market.Direction    `json:"bias"`
	Setup        *PendingSetup       `json:"setup,omitempty"`
	WorkingEntry *order.Plan         `json:"working_entry,omitempty"`
	Position     *order.Position     `json:"position,omitempty"`
	Orders       []order.Handle      `json:"orders"`
	Daily        risk.DailyRiskState `json:"daily"`
	DailyBlocked bool                `json:"daily_blocked"`
	LastBar      time.Time           `json:"last_bar"`
	Reading      indicator.Reading   `json:"reading"`
	Stats        Stats               `json:"stats"`
}
