// Package engine runs the sweep, displacement and confluence pipeline bar by
// bar and owns the single pending setup and the order lifecycle around it.
//
// Advance and the broker.Listener methods must be called from one goroutine.
// Snapshot may be called from any goroutine.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VeinDevTtv/vein-smc-bot/config"
	"github.com/VeinDevTtv/vein-smc-bot/internal/analysis"
	"github.com/VeinDevTtv/vein-smc-bot/internal/broker"
	"github.com/VeinDevTtv/vein-smc-bot/internal/confluence"
	"github.com/VeinDevTtv/vein-smc-bot/internal/events"
	"github.com/VeinDevTtv/vein-smc-bot/internal/indicator"
	"github.com/VeinDevTtv/vein-smc-bot/internal/logging"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
	"github.com/VeinDevTtv/vein-smc-bot/internal/order"
	"github.com/VeinDevTtv/vein-smc-bot/internal/risk"
)

// Indicators supplies the volatility and moving-average readings for a bar.
type Indicators interface {
	Next(bar market.Bar) indicator.Reading
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the base logger. It must not carry a component.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.base = l }
}

// WithEventBus publishes transitions to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// Engine is the setup state machine.
type Engine struct {
	cfg    config.Strategy
	broker broker.Broker
	ind    Indicators
	base   zerolog.Logger
	logger zerolog.Logger
	bus    *events.EventBus

	series   *market.Series
	bias     *analysis.BiasTracker
	sweeps   *analysis.SweepDetector
	disp     *analysis.DisplacementDetector
	builder  *confluence.Builder
	sizer    risk.Sizer
	orders   *order.Manager
	daily    *risk.DailyGuard
	trading  market.Window
	sweepWin market.Window

	state        State
	lastTerminal State
	setup        *PendingSetup
	tradeSetupID string
	lastBar      market.Bar
	reading      indicator.Reading
	dayEquity    float64
	capNotified  bool
	stats        Stats

	snapMu sync.RWMutex
	snap   Snapshot
}

// New validates cfg and builds an engine trading through b.
func New(cfg config.Strategy, b broker.Broker, ind Indicators, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("engine: nil broker")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	trading, sweepWin, err := cfg.Windows()
	if err != nil {
		return nil, err
	}

	capacity := cfg.SweepLookback + 3
	if capacity < 64 {
		capacity = 64
	}

	e := &Engine{
		cfg:      cfg,
		broker:   b,
		ind:      ind,
		base:     zerolog.Nop(),
		series:   market.NewSeries(capacity),
		bias:     analysis.NewBiasTracker(cfg.HTFRatio, cfg.BOSTolerance),
		sweeps:   analysis.NewSweepDetector(cfg.SweepLookback, cfg.SweepPierceRatio),
		disp:     analysis.NewDisplacementDetector(cfg.DisplacementBodyRatio),
		daily:    risk.NewDailyGuard(cfg.DailyLossCapFraction, loc),
		trading:  trading,
		sweepWin: sweepWin,
		state:    StateIdle,
		builder: confluence.NewBuilder(confluence.Params{
			QuoteIncrement: cfg.QuoteIncrement,
			BandLow:        cfg.RetracementBand.Low,
			BandHigh:       cfg.RetracementBand.High,
			StopBuffer:     cfg.StopBuffer,
			RRTarget:       cfg.RRTarget,
			Filters:        cfg.Filters(),
			MinScore:       cfg.ConfluenceMinScore,
		}),
		sizer: risk.Sizer{
			RiskFraction:  cfg.RiskFraction,
			Leverage:      cfg.Leverage,
			Multiplier:    cfg.ContractMultiplier,
			SizeIncrement: cfg.SizeIncrement,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.WithComponent(e.base, "engine")
	e.orders = order.NewManager(b, order.Config{
		MaxOrderAge: cfg.MaxOrderAgeBars,
		Multiplier:  cfg.ContractMultiplier,
		BreakevenR:  cfg.BreakevenR,
	}, e.base)
	e.publishSnapshot()
	return e, nil
}

// Advance evaluates one closed bar. Bars must arrive in time order.
func (e *Engine) Advance(ctx context.Context, bar market.Bar) error {
	if err := e.series.Push(bar); err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	defer e.publishSnapshot()

	e.stats.Bars++
	e.lastBar = bar
	if e.ind != nil {
		e.reading = e.ind.Next(bar)
	}
	vol := analysis.VolatilityUnit(e.reading.Volatility, e.reading.VolatilityOK)

	if e.daily.Roll(bar.Time) {
		e.dayEquity = e.broker.Equity()
		e.capNotified = false
		e.logger.Debug().Time("trading_day", e.daily.State().TradingDay).Float64("equity", e.dayEquity).Msg("Daily risk reset")
		e.publish(func(bus *events.EventBus) {
			bus.PublishDaily(events.EventDailyReset, bar.Time, e.daily.State().TradingDay, 0)
		})
	}

	prev := e.bias.Bias()
	if dir, changed := e.bias.Update(bar, e.reading.MovingAverage, e.reading.MovingAverageOK); changed {
		e.onBiasChanged(prev, dir)
	}

	if expired := e.orders.AgeOrders(ctx); len(expired) > 0 {
		e.stats.Expired++
		e.setState(StateExpired)
		e.lastTerminal = StateExpired
		e.publish(func(bus *events.EventBus) {
			bus.PublishSetup(events.EventSetupExpired, bar.Time, e.tradeSetupID, "", "ORDER_AGE")
		})
	}
	// The broker lost the expired entry, so no cancel ack will arrive.
	if e.state == StateExpired && !e.orders.Busy() {
		e.setState(StateIdle)
	}
	if e.setup != nil {
		e.setup.Age++
		if e.cfg.SetupMaxAgeBars > 0 && e.setup.Age > e.cfg.SetupMaxAgeBars {
			e.stats.Expired++
			e.discard(StateExpired, "SETUP_AGE")
		}
	}

	if e.orders.HasPosition() {
		moved, err := e.orders.ManagePosition(ctx, bar)
		if err != nil {
			e.logger.Error().Err(err).Msg("Position management failed")
		}
		if moved {
			e.stats.Breakevens++
			e.setState(StateManaged)
			pos, _ := e.orders.Position()
			ref := e.refFor(order.RoleStop)
			e.publish(func(bus *events.EventBus) {
				bus.PublishOrderUpdate(events.EventBreakevenMoved, bar.Time, ref, string(order.RoleStop), pos.StopPrice)
			})
		}
	}

	if e.lossCapped(bar) {
		return nil
	}
	bias := e.bias.Bias()
	if !bias.IsActive() {
		if e.setup != nil {
			e.stats.Invalidated++
			e.discard(StateIdle, "BIAS_NONE")
		}
		return nil
	}
	if e.setup != nil && e.setup.Direction != bias {
		e.stats.Invalidated++
		e.discard(StateIdle, "BIAS_FLIP")
	}
	if !e.trading.Contains(bar.Time) {
		e.logger.Debug().Time("bar", bar.Time).Msg("Outside trading window")
		return nil
	}
	if e.orders.Busy() {
		return nil
	}

	// One stage per bar.
	switch {
	case e.setup == nil:
		e.trySweep(bar, bias, vol)
	case e.setup.Displacement == nil:
		e.tryDisplacement(bar, vol)
	default:
		e.tryEntry(ctx, bar, bias)
	}
	return nil
}

func (e *Engine) lossCapped(bar market.Bar) bool {
	if !e.daily.Blocked(e.dayEquity) {
		return false
	}
	if !e.capNotified {
		e.capNotified = true
		e.stats.LossCapHits++
		st := e.daily.State()
		e.logger.Warn().
			Float64("realized_pnl", st.RealizedPnL).
			Float64("limit", e.daily.Limit(e.dayEquity)).
			Msg("Daily loss cap reached, new entries blocked")
		e.publish(func(bus *events.EventBus) {
			bus.PublishDaily(events.EventLossCapHit, bar.Time, st.TradingDay, st.RealizedPnL)
		})
	}
	return true
}

func (e *Engine) trySweep(bar market.Bar, bias market.Direction, vol float64) {
	if !e.sweepWin.Contains(bar.Time) {
		return
	}
	ev, ok := e.sweeps.Detect(e.series, bias, vol)
	if !ok {
		return
	}
	e.setup = &PendingSetup{
		ID:        uuid.NewString(),
		Direction: bias,
		Sweep:     ev,
		StartedAt: bar.Time,
	}
	e.stats.Setups++
	e.setState(StateSweepFound)
	e.logger.Info().
		Str("setup_id", e.setup.ID).
		Str("direction", string(bias)).
		Float64("level", ev.Level).
		Float64("extreme", ev.Extreme).
		Float64("pierce", ev.Pierce).
		Msg("Sweep detected, waiting for displacement")
	e.publish(func(bus *events.EventBus) {
		bus.PublishSetup(events.EventSetupStarted, bar.Time, e.setup.ID, string(bias), "")
	})
}

func (e *Engine) tryDisplacement(bar market.Bar, vol float64) {
	if !bar.Time.After(e.setup.Sweep.Bar.Time) {
		return
	}
	ev, ok := e.disp.Detect(e.series, e.setup.Direction, vol)
	if !ok {
		return
	}
	e.setup.Displacement = &ev
	e.stats.Displacements++
	e.setState(StateDisplacementFound)
	e.logger.Info().
		Str("setup_id", e.setup.ID).
		Float64("impulse_high", ev.ImpulseHigh).
		Float64("impulse_low", ev.ImpulseLow).
		Bool("gap", ev.Gap.Present).
		Bool("order_block", ev.OrderBlock.Present).
		Msg("Displacement found")
	e.publish(func(bus *events.EventBus) {
		bus.PublishSetup(events.EventDisplacementConfirmed, bar.Time, e.setup.ID, string(e.setup.Direction), "")
	})
}

func (e *Engine) tryEntry(ctx context.Context, bar market.Bar, bias market.Direction) {
	setup := e.setup
	res := e.builder.Build(confluence.Inputs{
		Sweep:        setup.Sweep,
		Displacement: *setup.Displacement,
		InTimeWindow: e.sweepWin.Contains(bar.Time),
		Bias:         bias,
	})
	log := logging.SetupContext(e.logger, setup.ID, string(setup.Direction))

	if !res.Valid {
		e.stats.SizeRejected++
		log.Info().Float64("swing_low", res.SwingLow).Float64("swing_high", res.SwingHigh).Msg("Invalid swing geometry")
		e.discard(StateSizeRejected, "INVALID_GEOMETRY")
		return
	}
	if !res.Passed {
		e.stats.ScoreRejected++
		log.Info().Int("score", res.Score).Int("min", e.cfg.ConfluenceMinScore).Msg("Confluence score below minimum")
		e.discard(StateScoreRejected, string(StateScoreRejected))
		return
	}

	sizing := e.sizer.Size(res.Entry, res.Stop, e.broker.Equity(), e.broker.Cash())
	if sizing.Size <= 0 {
		e.stats.SizeRejected++
		log.Info().
			Float64("entry", res.Entry).
			Float64("stop", res.Stop).
			Float64("raw_size", sizing.RawSize).
			Float64("max_affordable", sizing.MaxAffordable).
			Msg("Position size is zero")
		e.discard(StateSizeRejected, string(StateSizeRejected))
		return
	}

	plan := order.Plan{
		SetupID:   setup.ID,
		Direction: setup.Direction,
		Entry:     res.Entry,
		Stop:      res.Stop,
		Target:    res.Target,
		Size:      sizing.Size,
		Score:     res.Score,
		ZoneLow:   res.ZoneLow,
		ZoneHigh:  res.ZoneHigh,
	}
	if _, err := e.orders.Submit(ctx, plan); err != nil {
		e.stats.Rejected++
		log.Error().Err(err).Msg("Bracket submission failed")
		e.discard(StateRejected, "SUBMIT_FAILED")
		return
	}

	e.stats.Submitted++
	e.tradeSetupID = setup.ID
	e.setup = nil
	e.setState(StateEntrySubmitted)
	e.publish(func(bus *events.EventBus) {
		bus.PublishOrderPlaced(bar.Time, plan.SetupID, string(plan.Direction), plan.Entry, plan.Stop, plan.Target, plan.Size, plan.Score)
	})
}

// discard drops the pending setup, passing through terminal when it is one.
func (e *Engine) discard(terminal State, reason string) {
	setup := e.setup
	e.setup = nil
	if setup == nil {
		return
	}
	e.logger.Info().
		Str("setup_id", setup.ID).
		Str("reason", reason).
		Int("age", setup.Age).
		Msg("Setup discarded")

	eventType := events.EventSetupRejected
	if terminal == StateExpired {
		eventType = events.EventSetupExpired
	}
	e.publish(func(bus *events.EventBus) {
		bus.PublishSetup(eventType, e.lastBar.Time, setup.ID, string(setup.Direction), reason)
	})
	if terminal.IsTerminal() {
		e.setState(terminal)
		e.lastTerminal = terminal
	}
	e.setState(StateIdle)
}

func (e *Engine) onBiasChanged(from, to market.Direction) {
	ev := e.logger.Info().Str("from", string(from)).Str("to", string(to))
	if htf, ok := e.bias.Previous(); ok {
		ev = ev.Float64("htf_high", htf.High).Float64("htf_low", htf.Low).Float64("htf_close", htf.Close)
	}
	ev.Msg("Bias changed")
	e.publish(func(bus *events.EventBus) {
		bus.PublishBiasChanged(e.lastBar.Time, string(from), string(to))
	})
}

// ForceBias overrides the bias from an external higher-timeframe feed. The
// next bar's guards apply the new bias.
func (e *Engine) ForceBias(d market.Direction) {
	prev := e.bias.Bias()
	if e.bias.Force(d) {
		e.onBiasChanged(prev, d)
		e.publishSnapshot()
	}
}

// OnOrderEvent implements broker.Listener.
func (e *Engine) OnOrderEvent(ctx context.Context, ref string, status broker.Status, price float64) {
	defer e.publishSnapshot()

	role := e.roleOf(ref)

	switch e.orders.HandleOrderEvent(ctx, ref, status, price) {
	case order.OutcomeEntryFilled:
		e.stats.Filled++
		e.setState(StateFilled)
		e.publish(func(bus *events.EventBus) {
			bus.PublishOrderUpdate(events.EventOrderFilled, e.lastBar.Time, ref, role, price)
		})

	case order.OutcomeEntryCanceled:
		e.publish(func(bus *events.EventBus) {
			bus.PublishOrderUpdate(events.EventOrderCancelled, e.lastBar.Time, ref, role, price)
		})
		e.setState(StateIdle)

	case order.OutcomeEntryRejected:
		e.stats.Rejected++
		e.logger.Warn().Str("ref", ref).Str("status", string(status)).Msg("Entry rejected by broker, no retry")
		e.publish(func(bus *events.EventBus) {
			bus.PublishSetup(events.EventSetupRejected, e.lastBar.Time, e.tradeSetupID, "", string(status))
		})
		e.setState(StateRejected)
		e.lastTerminal = StateRejected
		e.setState(StateIdle)

	case order.OutcomeExitFilled:
		e.logger.Info().Str("setup_id", e.tradeSetupID).Str("exit", string(e.orders.LastExit())).Float64("price", price).Msg("Bracket exit filled")
		e.setState(StateClosed)
		e.lastTerminal = StateClosed
		e.publish(func(bus *events.EventBus) {
			bus.PublishOrderUpdate(events.EventOrderFilled, e.lastBar.Time, ref, role, price)
		})
	}
}

// OnTradeClosed implements broker.Listener.
func (e *Engine) OnTradeClosed(ctx context.Context, pnl float64) {
	defer e.publishSnapshot()

	if _, ok := e.orders.HandleTradeClosed(ctx, pnl); ok {
		e.lastTerminal = StateClosed
	}
	e.daily.Record(pnl)
	e.stats.TradesClosed++
	st := e.daily.State()
	e.logger.Info().
		Str("setup_id", e.tradeSetupID).
		Float64("pnl", pnl).
		Float64("daily_pnl", st.RealizedPnL).
		Msg("Trade closed")
	e.publish(func(bus *events.EventBus) {
		bus.PublishTradeClosed(e.lastBar.Time, e.tradeSetupID, pnl, st.RealizedPnL)
	})
	if !e.orders.Busy() {
		e.setState(StateIdle)
	}
	e.lossCapped(e.lastBar)
}

func (e *Engine) roleOf(ref string) string {
	for _, h := range e.orders.Handles() {
		if h.Ref == ref {
			return string(h.Role)
		}
	}
	return ""
}

func (e *Engine) refFor(role order.Role) string {
	for _, h := range e.orders.Handles() {
		if h.Role == role {
			return h.Ref
		}
	}
	return ""
}

func (e *Engine) setState(s State) {
	if s == e.state {
		return
	}
	from := e.state
	e.state = s
	e.logger.Debug().Str("from", string(from)).Str("to", string(s)).Msg("State transition")
	e.publish(func(bus *events.EventBus) {
		bus.PublishStateChanged(e.lastBar.Time, string(from), string(s))
	})
}

func (e *Engine) publish(fn func(bus *events.EventBus)) {
	if e.bus != nil {
		fn(e.bus)
	}
}

func (e *Engine) publishSnapshot() {
	snap := Snapshot{
		State:        e.state,
		LastTerminal: e.lastTerminal,
		LastExit:     e.orders.LastExit(),
		Bias:         e.bias.Bias(),
		Setup:        e.setup.clone(),
		Orders:       e.orders.Handles(),
		Daily:        e.daily.State(),
		DailyBlocked: e.daily.Blocked(e.dayEquity),
		LastBar:      e.lastBar.Time,
		Reading:      e.reading,
		Stats:        e.stats,
	}
	if plan, ok := e.orders.WorkingEntry(); ok {
		snap.WorkingEntry = &plan
	}
	if pos, ok := e.orders.Position(); ok {
		snap.Position = &pos
	}

	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
}

// Snapshot returns the state as of the last completed call.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// State returns the current state machine state.
func (e *Engine) State() State { return e.state }

// Stats returns the running counters.
func (e *Engine) Stats() Stats { return e.stats }
