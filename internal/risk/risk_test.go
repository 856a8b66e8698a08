package risk

import (
	"math"
	"testing"
	"time"

	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// margin is the cash a position of size at price ties up.
func margin(s Sizer, price, size float64) float64 {
	return price * size * s.Multiplier / s.Leverage
}

func TestSizerRiskBudget(t *testing.T) {
	s := Sizer{RiskFraction: 0.005, Leverage: 15, Multiplier: 100, SizeIncrement: 0.01}

	got := s.Size(20000, 19990, 100000, 1000000)
	if !approx(got.RiskAmount, 500) {
		t.Errorf("expected risk amount 500, got %f", got.RiskAmount)
	}
	if !approx(got.RawSize, 0.5) {
		t.Errorf("expected raw size 0.5, got %f", got.RawSize)
	}
	if got.Capped || !approx(got.Size, 0.5) {
		t.Errorf("expected uncapped 0.5 lots, got %+v", got)
	}
}

func TestSizerMarginCap(t *testing.T) {
	tests := []struct {
		name      string
		increment float64
		expected  float64
	}{
		{"hundredth lots", 0.01, 0.07},
		{"thousandth lots", 0.001, 0.075},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Sizer{RiskFraction: 0.005, Leverage: 15, Multiplier: 100, SizeIncrement: tt.increment}
			got := s.Size(20000, 19990, 100000, 10000)

			if !approx(got.MaxAffordable, 0.075) {
				t.Fatalf("expected max affordable 0.075, got %f", got.MaxAffordable)
			}
			if !got.Capped {
				t.Errorf("expected margin cap to apply")
			}
			if !approx(got.Size, tt.expected) {
				t.Errorf("expected %f lots, got %f", tt.expected, got.Size)
			}
			if m := margin(s, 20000, got.Size); m > 10000+1e-9 {
				t.Errorf("margin %f exceeds cash", m)
			}
		})
	}
}

func TestSizerInvalidGeometry(t *testing.T) {
	s := Sizer{RiskFraction: 0.005, Leverage: 15, Multiplier: 100, SizeIncrement: 0.01}

	tests := []struct {
		name                      string
		entry, stop, equity, cash float64
	}{
		{"stop equals entry", 20000, 20000, 100000, 10000},
		{"zero equity", 20000, 19990, 0, 10000},
		{"negative cash", 20000, 19990, 100000, -1},
		{"zero entry", 0, 19990, 100000, 10000},
		{"below increment", 20000, 10000, 100, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Size(tt.entry, tt.stop, tt.equity, tt.cash); got.Size != 0 {
				t.Errorf("expected zero size, got %f", got.Size)
			}
		})
	}
}

func TestSizerNeverExceedsMargin(t *testing.T) {
	s := Sizer{RiskFraction: 0.02, Leverage: 10, Multiplier: 50, SizeIncrement: 0.001}
	for _, cash := range []float64{100, 1000, 5000, 25000} {
		for _, dist := range []float64{0.5, 2, 10, 40} {
			got := s.Size(4000, 4000-dist, 50000, cash)
			if m := margin(s, 4000, got.Size); m > cash+1e-6 {
				t.Fatalf("cash %f dist %f: margin %f exceeds cash", cash, dist, m)
			}
		}
	}
}

func TestDailyGuardCap(t *testing.T) {
	g := NewDailyGuard(0.01, time.UTC)
	day1 := time.Date(2025, 5, 6, 14, 0, 0, 0, time.UTC)

	if !g.Roll(day1) {
		t.Fatalf("first bar must start a trading day")
	}
	g.Record(-600)
	if g.Blocked(100000) {
		t.Fatalf("-600 must not block")
	}
	g.Record(-400)
	if !g.Blocked(100000) {
		t.Fatalf("-1000 must block at cap 1000")
	}
	if g.Roll(day1.Add(3 * time.Hour)) {
		t.Fatalf("same date must not reset")
	}
	if !g.Blocked(100000) {
		t.Fatalf("block must hold for the rest of the day")
	}

	if !g.Roll(time.Date(2025, 5, 7, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("new date must reset")
	}
	if g.Blocked(100000) || g.State().RealizedPnL != 0 {
		t.Fatalf("block must clear on a new day, state %+v", g.State())
	}
}

func TestDailyGuardUsesLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	g := NewDailyGuard(0.01, ny)
	g.Roll(time.Date(2025, 5, 6, 23, 0, 0, 0, time.UTC))
	// 03:00 UTC on the 7th is still the 6th in New York.
	if g.Roll(time.Date(2025, 5, 7, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("date rollover must follow the configured location")
	}
}

func TestDailyGuardDisabled(t *testing.T) {
	g := NewDailyGuard(0, nil)
	g.Roll(time.Now())
	g.Record(-1e9)
	if g.Blocked(100000) {
		t.Fatalf("zero cap must never block")
	}
}

func TestBreakevenRule(t *testing.T) {
	r := BreakevenRule{Trigger: 1, Multiplier: 100}

	tests := []struct {
		name     string
		dir      market.Direction
		price    float64
		atBE     bool
		expected bool
	}{
		{"long below 1R", market.Long, 20005, false, false},
		{"long at 1R", market.Long, 20010, false, true},
		{"long adverse", market.Long, 19990, false, false},
		{"short at 1R", market.Short, 19990, false, true},
		{"already moved", market.Long, 20050, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 1R = 10 points x 0.5 lots x 100.
			got := r.ShouldMove(tt.dir, 20000, 0.5, 500, tt.price, tt.atBE)
			if got != tt.expected {
				t.Errorf("ShouldMove = %v, expected %v", got, tt.expected)
			}
		})
	}
}
