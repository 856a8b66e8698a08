package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/VeinDevTtv/vein-smc-bot/internal/events"
)

func TestCollectorCountsBusEvents(t *testing.T) {
	c := NewCollector("smc")
	bus := events.NewSynchronousEventBus()
	c.Attach(bus)

	at := time.Date(2025, 5, 6, 13, 45, 0, 0, time.UTC)
	bus.PublishSetup(events.EventSetupStarted, at, "a", "LONG", "")
	bus.PublishSetup(events.EventSetupStarted, at, "b", "LONG", "")
	bus.PublishSetup(events.EventSetupRejected, at, "b", "LONG", "SCORE_REJECTED")
	bus.PublishTradeClosed(at, "a", 750, 750)
	bus.PublishTradeClosed(at, "a", -500, 250)
	bus.PublishBiasChanged(at, "NONE", "SHORT")

	if got := testutil.ToFloat64(c.setups.WithLabelValues("LONG")); got != 2 {
		t.Errorf("expected 2 long setups, got %v", got)
	}
	if got := testutil.ToFloat64(c.rejections.WithLabelValues("SCORE_REJECTED")); got != 1 {
		t.Errorf("expected 1 score rejection, got %v", got)
	}
	if got := testutil.ToFloat64(c.trades.WithLabelValues("win")); got != 1 {
		t.Errorf("expected 1 win, got %v", got)
	}
	if got := testutil.ToFloat64(c.dailyPnL); got != 250 {
		t.Errorf("expected daily pnl 250, got %v", got)
	}
	if got := testutil.ToFloat64(c.bias.WithLabelValues("SHORT")); got != 1 {
		t.Errorf("expected SHORT bias gauge, got %v", got)
	}
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector("smc")
	c.Observe(events.Event{Type: events.EventBreakevenMoved})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "smc_breakeven_moves_total 1") {
		t.Fatalf("expected breakeven counter in exposition, got:\n%s", rec.Body.String())
	}
}
