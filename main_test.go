package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/VeinDevTtv/vein-smc-bot/config"
	"github.com/VeinDevTtv/vein-smc-bot/internal/events"
)

func TestEventBusKeepsGaugesInPublishOrder(t *testing.T) {
	bus, collector := newEventBus(config.MetricsConfig{Enabled: true, Namespace: "smc"})
	if collector == nil {
		t.Fatal("expected a collector when metrics are enabled")
	}
	handler := collectorHandler(collector)
	day := time.Date(2025, 5, 6, 13, 0, 0, 0, time.UTC)

	for i := 0; i < 200; i++ {
		at := day.AddDate(0, 0, i)
		bus.PublishTradeClosed(at, "s", -500, -500)
		bus.PublishDaily(events.EventDailyReset, at.Add(time.Hour), at.Add(time.Hour), 0)
		bus.PublishBiasChanged(at, "LONG", "SHORT")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body := rec.Body.String()
		if !strings.Contains(body, "smc_daily_realized_pnl 0\n") {
			t.Fatalf("iteration %d: daily pnl must follow the reset, got:\n%s", i, body)
		}
		if !strings.Contains(body, `smc_bias{direction="SHORT"} 1`) {
			t.Fatalf("iteration %d: expected SHORT bias gauge, got:\n%s", i, body)
		}
	}
}

func TestEventBusWithoutMetrics(t *testing.T) {
	bus, collector := newEventBus(config.MetricsConfig{})
	if bus == nil || collector != nil {
		t.Fatalf("expected a bus without a collector, got %v %v", bus, collector)
	}
	if collectorHandler(collector) != nil {
		t.Error("expected no metrics handler")
	}
}
