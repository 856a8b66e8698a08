package backtest

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VeinDevTtv/vein-smc-bot/config"
	"github.com/VeinDevTtv/vein-smc-bot/internal/feed"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
	"github.com/VeinDevTtv/vein-smc-bot/internal/paper"
)

var t0 = time.Date(2025, 5, 6, 13, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{Time: t0.Add(time.Duration(i) * 15 * time.Minute), Open: o, High: h, Low: l, Close: c}
}

func testStrategy() config.Strategy {
	s := config.DefaultStrategy()
	s.SweepLookback = 3
	s.HTFRatio = 1000
	s.StopBuffer = 0.25
	s.RRTarget = 2
	// Longer than the series so volatility falls back to one.
	s.ATRPeriod = 50
	s.MAPeriod = 50
	s.TradingWindow = config.SessionConfig{}
	s.SweepWindow = config.SessionConfig{}
	return s
}

// winningLong sweeps 99, displaces to 104, fills the 101 limit and runs to
// the 106.5 target.
func winningLong() []market.Bar {
	return []market.Bar{
		bar(0, 100, 101, 99, 100),
		bar(1, 100, 101, 99, 100),
		bar(2, 100, 101, 99, 100),
		bar(3, 100, 100.2, 98.5, 99.5),
		bar(4, 101.2, 104, 101.2, 103.8),
		bar(5, 103.8, 104, 103, 103.5),
		bar(6, 103, 103.5, 100.5, 101.5),
		bar(7, 101.5, 107, 101.4, 106.8),
	}
}

func TestRunnerLogsOneComponentPerLine(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf).Level(zerolog.DebugLevel).With().Str("service", "smc").Logger()
	r := NewRunner(testStrategy(), 100000, WithBias(market.Long), WithLogger(base), WithSource("bars.csv"))
	if _, err := r.Run(context.Background(), winningLong()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	seen := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if n := strings.Count(line, `"component"`); n != 1 {
			t.Fatalf("expected one component key, got %d in %s", n, line)
		}
		for _, c := range []string{"backtest", "engine", "OrderManager", "PaperBroker"} {
			if strings.Contains(line, `"component":"`+c+`"`) {
				seen[c] = true
			}
		}
	}
	for _, c := range []string{"backtest", "engine", "OrderManager", "PaperBroker"} {
		if !seen[c] {
			t.Errorf("expected log lines from %s", c)
		}
	}
	if !strings.Contains(buf.String(), `"source":"bars.csv"`) {
		t.Errorf("expected the bar source on the run lines")
	}
}

func TestRunnerWinningTrade(t *testing.T) {
	r := NewRunner(testStrategy(), 100000, WithBias(market.Long))
	res, err := r.Run(context.Background(), winningLong())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.TotalTrades != 1 || res.WinningTrades != 1 {
		t.Fatalf("expected one winning trade, got %+v", res)
	}
	tr := res.Trades[0]
	if tr.Entry != 101 || tr.Exit != 106.5 || math.Abs(tr.Size-1.81) > 1e-9 {
		t.Errorf("unexpected trade %+v", tr)
	}
	if math.Abs(res.NetProfit-995.5) > 1e-6 {
		t.Errorf("expected net profit 995.5, got %f", res.NetProfit)
	}
	if res.WinRate != 100 || res.MaxDrawdown != 0 {
		t.Errorf("unexpected win rate %f / drawdown %f", res.WinRate, res.MaxDrawdown)
	}
	if res.Setups.Submitted != 1 || res.Setups.Filled != 1 || res.Setups.TradesClosed != 1 {
		t.Errorf("unexpected engine stats %+v", res.Setups)
	}
	if len(res.EquityCurve) != 8 {
		t.Errorf("expected one equity point per bar, got %d", len(res.EquityCurve))
	}

	p := r.Progress()
	if p.Processed != 8 || p.Total != 8 || !p.Done || p.Running {
		t.Errorf("unexpected progress %+v", p)
	}
	snap, ok := r.Snapshot()
	if !ok || snap.State != "IDLE" || snap.Position != nil {
		t.Errorf("expected a flat engine after the run, got %+v", snap)
	}

	var out bytes.Buffer
	res.Print(&out)
	if !strings.Contains(out.String(), "Total Trades: 1") {
		t.Errorf("summary missing trade count:\n%s", out.String())
	}
}

func TestRunnerWithoutBiasDoesNotTrade(t *testing.T) {
	r := NewRunner(testStrategy(), 100000)
	res, err := r.Run(context.Background(), winningLong())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.TotalTrades != 0 || res.Setups.Setups != 0 {
		t.Fatalf("expected no activity without a bias, got %+v", res.Setups)
	}
	if res.NetProfit != 0 {
		t.Errorf("expected flat equity, got %f", res.NetProfit)
	}
}

func TestRunnerErrors(t *testing.T) {
	r := NewRunner(testStrategy(), 100000)
	if _, err := r.Run(context.Background(), nil); !errors.Is(err, feed.ErrNoBars) {
		t.Errorf("expected ErrNoBars, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx, winningLong()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	bad := testStrategy()
	bad.RiskFraction = 0
	if _, err := NewRunner(bad, 100000).Run(context.Background(), winningLong()); err == nil {
		t.Error("expected an invalid config error")
	}
	if _, err := NewRunner(testStrategy(), 0).Run(context.Background(), winningLong()); err == nil {
		t.Error("expected an invalid balance error")
	}
}

func TestCalculateMetrics(t *testing.T) {
	res := &Result{
		Trades: []paper.Trade{{PnL: 300}, {PnL: -100}, {PnL: 200}, {PnL: -100}},
		EquityCurve: []EquityPoint{
			{Equity: 10000}, {Equity: 10500}, {Equity: 10200}, {Equity: 9800},
			{Equity: 10100}, {Equity: 9500}, {Equity: 10000}, {Equity: 10300},
		},
	}
	calculateMetrics(res, 10000, 10300)

	if res.TotalTrades != 4 || res.WinningTrades != 2 || res.LosingTrades != 2 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.WinRate != 50 || res.ProfitFactor != 2.5 {
		t.Errorf("expected win rate 50 and profit factor 2.5, got %f / %f", res.WinRate, res.ProfitFactor)
	}
	if res.NetProfit != 300 || math.Abs(res.ROI-3) > 1e-9 {
		t.Errorf("expected net 300 and ROI 3, got %f / %f", res.NetProfit, res.ROI)
	}
	// Peak 10500, trough 9500.
	if math.Abs(res.MaxDrawdown-9.5238) > 1e-3 {
		t.Errorf("expected drawdown 9.52%%, got %f", res.MaxDrawdown)
	}
	if res.SharpeRatio <= 0 {
		t.Errorf("expected a positive Sharpe ratio, got %f", res.SharpeRatio)
	}
}
