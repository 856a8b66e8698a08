package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VeinDevTtv/vein-smc-bot/config"
	"github.com/VeinDevTtv/vein-smc-bot/internal/api"
	"github.com/VeinDevTtv/vein-smc-bot/internal/backtest"
	"github.com/VeinDevTtv/vein-smc-bot/internal/events"
	"github.com/VeinDevTtv/vein-smc-bot/internal/feed"
	"github.com/VeinDevTtv/vein-smc-bot/internal/logging"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
	"github.com/VeinDevTtv/vein-smc-bot/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	barsPath := flag.String("bars", "", "CSV or parquet bar file (overrides backtest.bars_path)")
	serve := flag.Bool("serve", false, "serve status, metrics and events over HTTP")
	bias := flag.String("bias", "", "seed the higher-timeframe bias: LONG or SHORT")
	jsonOut := flag.Bool("json", false, "print the result as JSON")
	flag.Parse()

	if err := run(*configPath, *barsPath, *serve, *bias, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, barsPath string, serve bool, bias string, jsonOut bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if barsPath != "" {
		cfg.Backtest.BarsPath = barsPath
	}
	if serve {
		cfg.Server.Enabled = true
	}
	if cfg.Backtest.BarsPath == "" {
		return fmt.Errorf("no bar file given, use -bars or backtest.bars_path")
	}

	logger, closer, err := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Service:     "vein-smc-bot",
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	logging.SetDefault(logger)
	log := logging.WithComponent(logger, "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bars, err := feed.Load(cfg.Backtest.BarsPath)
	if err != nil {
		return err
	}
	log.Info().Int("bars", len(bars)).Str("path", cfg.Backtest.BarsPath).Msg("Bars loaded")

	eventBus, collector := newEventBus(cfg.Metrics)

	opts := []backtest.Option{
		backtest.WithLogger(logger),
		backtest.WithEventBus(eventBus),
		backtest.WithSource(cfg.Backtest.BarsPath),
	}
	switch d := market.Direction(strings.ToUpper(bias)); d {
	case market.Long, market.Short:
		opts = append(opts, backtest.WithBias(d))
	case "":
	default:
		return fmt.Errorf("unknown bias %q", bias)
	}
	runner := backtest.NewRunner(cfg.Strategy, cfg.Backtest.InitialBalance, opts...)

	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		server = api.NewServer(cfg.Server, runner, eventBus, collectorHandler(collector), logger)
		go func() { serverErr <- server.Start() }()
	}

	result, err := runner.Run(ctx, bars)
	if err != nil {
		shutdown(server, cfg.Server.ShutdownTimeout)
		return fmt.Errorf("backtest: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		result.Print(os.Stdout)
	}

	if server == nil {
		return nil
	}
	server.SetResult(result)
	log.Info().Msg("Backtest finished, serving results until interrupted")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}
	return shutdown(server, cfg.Server.ShutdownTimeout)
}

// newEventBus builds the run's event bus and, when enabled, the metrics
// collector observing it. Delivery is synchronous so gauges see events in
// publish order.
func newEventBus(cfg config.MetricsConfig) (*events.EventBus, *metrics.Collector) {
	bus := events.NewSynchronousEventBus()
	if !cfg.Enabled {
		return bus, nil
	}
	collector := metrics.NewCollector(cfg.Namespace)
	collector.Attach(bus)
	return bus, collector
}

func collectorHandler(c *metrics.Collector) http.Handler {
	if c == nil {
		return nil
	}
	return c.Handler()
}

func shutdown(server *api.Server, timeout int) error {
	if server == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 10
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
