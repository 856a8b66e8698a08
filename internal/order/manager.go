package order

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/VeinDevTtv/vein-smc-bot/internal/broker"
	"github.com/VeinDevTtv/vein-smc-bot/internal/logging"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
	"github.com/VeinDevTtv/vein-smc-bot/internal/risk"
)

// Plan is a sized entry ready for submission.
type Plan struct {
	SetupID   string           `json:"setup_id"`
	Direction market.Direction `json:"direction"`
	Entry     float64          `json:"entry"`
	Stop      float64          `json:"stop"`
	Target    float64          `json:"target"`
	Size      float64          `json:"size"`
	Score     int              `json:"score"`
	ZoneLow   float64          `json:"zone_low"`
	ZoneHigh  float64          `json:"zone_high"`
}

// Position mirrors the open broker position.
type Position struct {
	SetupID    string           `json:"setup_id"`
	Direction  market.Direction `json:"direction"`
	Size       float64          `json:"size"`
	EntryPrice float64          `json:"entry_price"`
	StopPrice  float64          `json:"stop_price"`
	Target     float64          `json:"target"`
	Risk       float64          `json:"risk"`
	Breakeven  bool             `json:"breakeven"`
}

// Outcome classifies what an order notification did to the trade cycle.
type Outcome string

const (
	OutcomeNone          Outcome = "NONE"
	OutcomeUnknown       Outcome = "UNKNOWN"
	OutcomeEntryFilled   Outcome = "ENTRY_FILLED"
	OutcomeEntryCanceled Outcome = "ENTRY_CANCELED"
	OutcomeEntryRejected Outcome = "ENTRY_REJECTED"
	OutcomeExitFilled    Outcome = "EXIT_FILLED"
)

// Config holds order lifecycle limits.
type Config struct {
	MaxOrderAge int
	Multiplier  float64
	// BreakevenR is the open profit in R that moves the stop; 0 means 1R.
	BreakevenR float64
}

// Manager owns the order registry and the position mirror.
type Manager struct {
	broker   broker.Broker
	registry *Registry
	cfg      Config
	rule     risk.BreakevenRule
	logger   zerolog.Logger

	working  *Plan
	position *Position
	lastExit Role
}

// NewManager creates a Manager.
func NewManager(b broker.Broker, cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		broker:   b,
		registry: NewRegistry(),
		cfg:      cfg,
		rule:     risk.BreakevenRule{Trigger: cfg.BreakevenR, Multiplier: cfg.Multiplier},
		logger:   logging.WithComponent(logger, "OrderManager"),
	}
}

// Submit places plan as a bracket order.
func (m *Manager) Submit(ctx context.Context, plan Plan) (broker.BracketRefs, error) {
	if m.Busy() {
		return broker.BracketRefs{}, ErrBusy
	}

	refs, err := m.broker.SubmitBracket(ctx, broker.BracketIntent{
		Direction: plan.Direction,
		Entry:     plan.Entry,
		Stop:      plan.Stop,
		Target:    plan.Target,
		Size:      plan.Size,
	})
	if err != nil {
		return broker.BracketRefs{}, fmt.Errorf("submit bracket: %w", err)
	}

	legs := []Handle{
		{Role: RoleEntry, Ref: refs.Entry, Price: plan.Entry, Size: plan.Size},
		{Role: RoleStop, Ref: refs.Stop, Price: plan.Stop, Size: plan.Size},
		{Role: RoleTarget, Ref: refs.Target, Price: plan.Target, Size: plan.Size},
	}
	for _, h := range legs {
		if err := m.registry.Insert(h); err != nil {
			m.registry.Clear()
			return broker.BracketRefs{}, fmt.Errorf("register %s leg: %w", h.Role, err)
		}
	}
	p := plan
	m.working = &p

	m.logger.Info().
		Str("setup_id", plan.SetupID).
		Str("direction", string(plan.Direction)).
		Float64("entry", plan.Entry).
		Float64("stop", plan.Stop).
		Float64("target", plan.Target).
		Float64("size", plan.Size).
		Str("entry_ref", refs.Entry).
		Msg("Bracket submitted")
	return refs, nil
}

// AgeOrders ages every order by one bar and requests cancellation of an
// unfilled entry that has outlived the age cap. It returns the entry
// references that expired on this bar. A failed cancel is retried on the
// next bar; an entry the broker no longer knows drops the bracket.
func (m *Manager) AgeOrders(ctx context.Context) []string {
	m.registry.Age()
	if m.cfg.MaxOrderAge <= 0 {
		return nil
	}

	var expired []string
	for _, ref := range m.registry.Expired(RoleEntry, m.cfg.MaxOrderAge) {
		h, ok := m.registry.Get(ref)
		if !ok {
			continue
		}
		h.CancelRequested = true
		h.CancelAttempts++
		if h.CancelAttempts == 1 {
			expired = append(expired, ref)
			m.logger.Info().Str("ref", ref).Int("max_age", m.cfg.MaxOrderAge).Msg("Entry order expired, cancelling")
		}

		err := m.broker.Cancel(ctx, ref)
		switch {
		case err == nil:
		case errors.Is(err, broker.ErrOrderNotFound):
			m.logger.Warn().Err(err).Str("ref", ref).Msg("Expired entry unknown to broker, dropping bracket")
			m.registry.Remove(ref)
			m.dropBracket(ctx, true)
		default:
			h.CancelRequested = false
			m.logger.Warn().Err(err).Str("ref", ref).Int("attempt", h.CancelAttempts).Msg("Cancel request failed, retrying next bar")
		}
	}
	return expired
}

// ManagePosition moves the stop to the entry price once the open profit at
// the bar close reaches the breakeven trigger. It reports whether the stop
// moved on this bar.
func (m *Manager) ManagePosition(ctx context.Context, bar market.Bar) (bool, error) {
	pos := m.position
	if pos == nil || !m.rule.ShouldMove(pos.Direction, pos.EntryPrice, pos.Size, pos.Risk, bar.Close, pos.Breakeven) {
		return false, nil
	}

	var oco string
	if target, ok := m.registry.ByRole(RoleTarget); ok {
		oco = target.Ref
	}
	if stop, ok := m.registry.ByRole(RoleStop); ok {
		if err := m.broker.Cancel(ctx, stop.Ref); err != nil && !errors.Is(err, broker.ErrOrderNotFound) {
			return false, fmt.Errorf("cancel stop %s: %w", stop.Ref, err)
		}
		m.registry.Remove(stop.Ref)
	}

	ref, err := m.broker.SubmitStop(ctx, broker.StopIntent{
		Direction: pos.Direction,
		Price:     pos.EntryPrice,
		Size:      pos.Size,
		OCO:       oco,
	})
	// The position is marked either way so the move is attempted once per trade.
	pos.Breakeven = true
	if err != nil {
		m.logger.Error().Err(err).Msg("Breakeven stop submission failed, position unprotected")
		return false, fmt.Errorf("submit breakeven stop: %w", err)
	}
	if err := m.registry.Insert(Handle{Role: RoleStop, Ref: ref, Price: pos.EntryPrice, Size: pos.Size}); err != nil {
		return false, err
	}
	pos.StopPrice = pos.EntryPrice

	m.logger.Info().
		Str("setup_id", pos.SetupID).
		Float64("stop", pos.EntryPrice).
		Float64("close", bar.Close).
		Float64("risk", pos.Risk).
		Msg("Stop moved to breakeven")
	return true, nil
}

// HandleOrderEvent applies a broker notification.
func (m *Manager) HandleOrderEvent(ctx context.Context, ref string, status broker.Status, price float64) Outcome {
	h, ok := m.registry.Get(ref)
	if !ok {
		m.logger.Debug().Str("ref", ref).Str("status", string(status)).Msg("Notification for untracked order")
		return OutcomeUnknown
	}

	switch h.Role {
	case RoleEntry:
		return m.handleEntry(ctx, *h, status, price)
	default:
		return m.handleExit(ctx, *h, status, price)
	}
}

func (m *Manager) handleEntry(ctx context.Context, h Handle, status broker.Status, price float64) Outcome {
	switch status {
	case broker.StatusFilled:
		m.registry.Remove(h.Ref)
		plan := Plan{Stop: h.Price, Size: h.Size}
		if m.working != nil {
			plan = *m.working
		}
		if price <= 0 {
			price = h.Price
		}
		m.position = &Position{
			SetupID:    plan.SetupID,
			Direction:  plan.Direction,
			Size:       h.Size,
			EntryPrice: price,
			StopPrice:  plan.Stop,
			Target:     plan.Target,
			Risk:       math.Abs(price-plan.Stop) * h.Size * m.cfg.Multiplier,
		}
		m.working = nil
		ev := m.logger.Info()
		if h.CancelRequested {
			ev = m.logger.Warn().Bool("cancel_requested", true)
		}
		ev.Str("ref", h.Ref).
			Float64("price", price).
			Float64("risk", m.position.Risk).
			Msg("Entry filled, position open")
		return OutcomeEntryFilled

	case broker.StatusCanceled, broker.StatusExpired:
		m.logger.Info().Str("ref", h.Ref).Str("status", string(status)).Msg("Entry order cancelled")
		m.dropBracket(ctx, false)
		return OutcomeEntryCanceled

	case broker.StatusRejected, broker.StatusMargin:
		m.logger.Warn().Str("ref", h.Ref).Str("status", string(status)).Msg("Entry order rejected")
		m.dropBracket(ctx, false)
		return OutcomeEntryRejected
	}
	return OutcomeNone
}

func (m *Manager) handleExit(ctx context.Context, h Handle, status broker.Status, price float64) Outcome {
	switch status {
	case broker.StatusFilled:
		m.registry.Remove(h.Ref)
		m.lastExit = h.Role
		m.dropBracket(ctx, true)
		pos := m.position
		m.position = nil
		ev := m.logger.Info().Str("ref", h.Ref).Str("role", string(h.Role)).Float64("price", price)
		if pos != nil {
			ev = ev.Str("setup_id", pos.SetupID).Bool("breakeven", pos.Breakeven)
		}
		ev.Msg("Exit filled, position closed")
		return OutcomeExitFilled

	case broker.StatusCanceled, broker.StatusExpired:
		m.registry.Remove(h.Ref)
		return OutcomeNone

	case broker.StatusRejected, broker.StatusMargin:
		m.registry.Remove(h.Ref)
		m.logger.Error().Str("ref", h.Ref).Str("role", string(h.Role)).Str("status", string(status)).
			Msg("Exit order rejected")
		return OutcomeNone
	}
	return OutcomeNone
}

// dropBracket forgets every remaining handle, asking the broker to cancel
// them when cancel is set.
func (m *Manager) dropBracket(ctx context.Context, cancel bool) {
	for _, h := range m.registry.Handles() {
		if cancel {
			if err := m.broker.Cancel(ctx, h.Ref); err != nil && !errors.Is(err, broker.ErrOrderNotFound) {
				m.logger.Warn().Err(err).Str("ref", h.Ref).Msg("Cancel of remaining bracket leg failed")
			}
		}
		m.registry.Remove(h.Ref)
	}
	m.working = nil
}

// HandleTradeClosed clears the position mirror if an exit fill was not seen
// and returns the closed position.
func (m *Manager) HandleTradeClosed(ctx context.Context, pnl float64) (Position, bool) {
	pos := m.position
	if pos != nil {
		m.dropBracket(ctx, true)
		m.position = nil
		m.logger.Info().Float64("pnl", pnl).Msg("Trade closed without exit notification")
		return *pos, true
	}
	return Position{}, false
}

// Busy reports whether a working entry or an open position exists.
func (m *Manager) Busy() bool {
	return m.working != nil || m.position != nil
}

// HasPosition reports whether a position is open.
func (m *Manager) HasPosition() bool { return m.position != nil }

// WorkingEntry returns the submitted but unfilled plan.
func (m *Manager) WorkingEntry() (Plan, bool) {
	if m.working == nil {
		return Plan{}, false
	}
	return *m.working, true
}

// Position returns a copy of the open position.
func (m *Manager) Position() (Position, bool) {
	if m.position == nil {
		return Position{}, false
	}
	return *m.position, true
}

// LastExit returns the role of the most recent exit fill.
func (m *Manager) LastExit() Role { return m.lastExit }

// Handles returns the tracked orders.
func (m *Manager) Handles() []Handle { return m.registry.Handles() }
