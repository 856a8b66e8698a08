// Package backtest replays historical bars through the setup engine against
// the paper broker.
package backtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/VeinDevTtv/vein-smc-bot/config"
	"github.com/VeinDevTtv/vein-smc-bot/internal/engine"
	"github.com/VeinDevTtv/vein-smc-bot/internal/events"
	"github.com/VeinDevTtv/vein-smc-bot/internal/feed"
	"github.com/VeinDevTtv/vein-smc-bot/internal/indicator"
	"github.com/VeinDevTtv/vein-smc-bot/internal/logging"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
	"github.com/VeinDevTtv/vein-smc-bot/internal/paper"
)

// Progress reports how far a run has got.
type Progress struct {
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
	Running   bool `json:"running"`
	Done      bool `json:"done"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the base logger. It must not carry a component.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.base = l }
}

// WithSource names where the bars came from in the run's log lines.
func WithSource(source string) Option {
	return func(r *Runner) { r.source = source }
}

// WithEventBus forwards engine events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithBias seeds the bias before the first bar, standing in for a
// higher-timeframe feed.
func WithBias(d market.Direction) Option {
	return func(r *Runner) { r.bias = d }
}

// Runner owns one backtest run.
type Runner struct {
	strategy config.Strategy
	balance  float64
	base     zerolog.Logger
	logger   zerolog.Logger
	source   string
	bus      *events.EventBus
	bias     market.Direction

	processed atomic.Int64
	total     atomic.Int64
	running   atomic.Bool
	done      atomic.Bool

	mu     sync.RWMutex
	engine *engine.Engine
}

// NewRunner creates a runner starting from initialBalance.
func NewRunner(strategy config.Strategy, initialBalance float64, opts ...Option) *Runner {
	r := &Runner{
		strategy: strategy,
		balance:  initialBalance,
		base:     zerolog.Nop(),
		source:   "memory",
		bias:     market.None,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithComponent(r.base, "backtest")
	return r
}

// Run replays bars in order. Each bar is shown to the paper broker first so
// orders placed on the previous bar can fill, then to the engine.
func (r *Runner) Run(ctx context.Context, bars []market.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, feed.ErrNoBars
	}
	if r.balance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive, got %v", r.balance)
	}

	pb := paper.New(paper.Config{
		InitialBalance: r.balance,
		Leverage:       r.strategy.Leverage,
		Multiplier:     r.strategy.ContractMultiplier,
	}, r.base)

	opts := []engine.Option{engine.WithLogger(r.base)}
	if r.bus != nil {
		opts = append(opts, engine.WithEventBus(r.bus))
	}
	eng, err := engine.New(r.strategy, pb, indicator.NewStreaming(r.strategy.ATRPeriod, r.strategy.MAPeriod), opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	pb.SetListener(eng)
	if r.bias.IsActive() {
		eng.ForceBias(r.bias)
	}

	r.mu.Lock()
	r.engine = eng
	r.mu.Unlock()
	r.processed.Store(0)
	r.total.Store(int64(len(bars)))
	r.done.Store(false)
	r.running.Store(true)
	defer r.running.Store(false)

	log := logging.BacktestContext(r.logger, r.source, bars[0].Time, bars[len(bars)-1].Time)
	log.Info().
		Int("bars", len(bars)).
		Float64("balance", r.balance).
		Msg("Backtest started")

	result := &Result{EquityCurve: make([]EquityPoint, 0, len(bars))}
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pb.OnBar(bar)
		pb.Flush(ctx)
		if err := eng.Advance(ctx, bar); err != nil {
			return nil, fmt.Errorf("bar %s: %w", bar.Time, err)
		}
		pb.Flush(ctx)

		result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: bar.Time, Equity: pb.Equity()})
		r.processed.Add(1)
	}

	result.Bars = len(bars)
	result.Trades = pb.Trades()
	result.Setups = eng.Stats()
	calculateMetrics(result, r.balance, pb.Equity())
	r.done.Store(true)

	log.Info().
		Int("trades", result.TotalTrades).
		Float64("net_profit", result.NetProfit).
		Float64("max_drawdown", result.MaxDrawdown).
		Msg("Backtest finished")
	return result, nil
}

// Progress returns the current run progress.
func (r *Runner) Progress() Progress {
	return Progress{
		Processed: int(r.processed.Load()),
		Total:     int(r.total.Load()),
		Running:   r.running.Load(),
		Done:      r.done.Load(),
	}
}

// Snapshot returns the engine state of the current or last run.
func (r *Runner) Snapshot() (engine.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return engine.Snapshot{}, false
	}
	return r.engine.Snapshot(), true
}
