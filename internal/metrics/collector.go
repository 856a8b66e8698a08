// Package metrics exposes engine activity as prometheus series. The
// collector observes the event bus and never touches engine state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VeinDevTtv/vein-smc-bot/internal/events"
)

// Collector owns a private registry so several runs can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	setups      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	orders      *prometheus.CounterVec
	breakevens  prometheus.Counter
	trades      *prometheus.CounterVec
	dailyPnL    prometheus.Gauge
	bias        *prometheus.GaugeVec
	lossCapHits prometheus.Counter
}

// NewCollector creates and registers every series under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		setups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "setups_total",
				Help:      "Setups started, by direction",
			},
			[]string{"direction"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "setups_discarded_total",
				Help:      "Setups discarded before a fill, by reason",
			},
			[]string{"reason"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Order events, by kind",
			},
			[]string{"event"},
		),
		breakevens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breakeven_moves_total",
			Help:      "Stops moved to the entry price",
		}),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Closed trades, by result",
			},
			[]string{"result"},
		),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_realized_pnl",
			Help:      "Realized P/L of the current trading day",
		}),
		bias: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bias",
				Help:      "1 for the active higher-timeframe bias, 0 otherwise",
			},
			[]string{"direction"},
		),
		lossCapHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loss_cap_hits_total",
			Help:      "Days on which the daily loss cap blocked new entries",
		}),
	}
	c.registry.MustRegister(c.setups, c.rejections, c.orders, c.breakevens, c.trades, c.dailyPnL, c.bias, c.lossCapHits)
	return c
}

// Attach subscribes the collector to every bus event.
func (c *Collector) Attach(bus *events.EventBus) {
	bus.SubscribeAll(c.Observe)
}

// Observe updates the series for one event.
func (c *Collector) Observe(e events.Event) {
	switch e.Type {
	case events.EventSetupStarted:
		c.setups.WithLabelValues(str(e.Data, "direction")).Inc()
	case events.EventSetupRejected:
		c.rejections.WithLabelValues(str(e.Data, "reason")).Inc()
	case events.EventSetupExpired:
		c.rejections.WithLabelValues("EXPIRED").Inc()
	case events.EventOrderPlaced:
		c.orders.WithLabelValues("placed").Inc()
	case events.EventOrderFilled:
		c.orders.WithLabelValues("filled").Inc()
	case events.EventOrderCancelled:
		c.orders.WithLabelValues("cancelled").Inc()
	case events.EventBreakevenMoved:
		c.breakevens.Inc()
	case events.EventTradeClosed:
		pnl := num(e.Data, "pnl")
		result := "loss"
		if pnl > 0 {
			result = "win"
		}
		c.trades.WithLabelValues(result).Inc()
		c.dailyPnL.Set(num(e.Data, "daily_pnl"))
	case events.EventDailyReset:
		c.dailyPnL.Set(0)
	case events.EventLossCapHit:
		c.lossCapHits.Inc()
	case events.EventBiasChanged:
		for _, d := range []string{"LONG", "SHORT", "NONE"} {
			v := 0.0
			if d == str(e.Data, "to") {
				v = 1
			}
			c.bias.WithLabelValues(d).Set(v)
		}
	}
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func str(data map[string]interface{}, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return "unknown"
}

func num(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
