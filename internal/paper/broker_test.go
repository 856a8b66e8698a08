package paper

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VeinDevTtv/vein-smc-bot/internal/broker"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

type event struct {
	ref    string
	status broker.Status
	price  float64
}

type listener struct {
	events []event
	pnls   []float64
}

func (l *listener) OnOrderEvent(_ context.Context, ref string, status broker.Status, price float64) {
	l.events = append(l.events, event{ref, status, price})
}

func (l *listener) OnTradeClosed(_ context.Context, pnl float64) {
	l.pnls = append(l.pnls, pnl)
}

func (l *listener) last(ref string) (event, bool) {
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].ref == ref {
			return l.events[i], true
		}
	}
	return event{}, false
}

var t0 = time.Date(2025, 5, 6, 13, 30, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{Time: t0.Add(time.Duration(i) * 15 * time.Minute), Open: o, High: h, Low: l, Close: c}
}

func newTestBroker() (*Broker, *listener) {
	b := New(Config{InitialBalance: 100000, Leverage: 15, Multiplier: 100}, zerolog.New(io.Discard))
	l := &listener{}
	b.SetListener(l)
	return b, l
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func longBracket() broker.BracketIntent {
	return broker.BracketIntent{Direction: market.Long, Entry: 20000, Stop: 19990, Target: 20015, Size: 0.5}
}

func TestLongBracketTargetFill(t *testing.T) {
	ctx := context.Background()
	b, l := newTestBroker()

	refs, err := b.SubmitBracket(ctx, longBracket())
	if err != nil {
		t.Fatalf("SubmitBracket() error = %v", err)
	}

	b.OnBar(bar(0, 20010, 20020, 20005, 20012))
	b.Flush(ctx)
	if b.HasPosition() {
		t.Fatal("entry must not fill above the limit")
	}

	b.OnBar(bar(1, 20004, 20006, 19998, 20003))
	b.Flush(ctx)
	ev, ok := l.last(refs.Entry)
	if !ok || ev.status != broker.StatusFilled || ev.price != 20000 {
		t.Fatalf("expected entry fill at 20000, got %+v", ev)
	}
	if !approx(b.Cash(), 100000-20000*0.5*100/15) {
		t.Errorf("expected margin held, cash = %f", b.Cash())
	}
	if !approx(b.Equity(), 100000+3*0.5*100) {
		t.Errorf("expected marked equity, got %f", b.Equity())
	}

	b.OnBar(bar(2, 20003, 20016, 20001, 20014))
	b.Flush(ctx)
	ev, ok = l.last(refs.Target)
	if !ok || ev.status != broker.StatusFilled || ev.price != 20015 {
		t.Fatalf("expected target fill at 20015, got %+v", ev)
	}
	if len(l.pnls) != 1 || !approx(l.pnls[0], 750) {
		t.Fatalf("expected pnl 750, got %v", l.pnls)
	}
	if !approx(b.balance, 100750) || !approx(b.Cash(), 100750) {
		t.Errorf("unexpected balance %f cash %f", b.balance, b.Cash())
	}
	if err := b.Cancel(ctx, refs.Stop); !errors.Is(err, broker.ErrOrderNotFound) {
		t.Errorf("expected the OCO stop gone, got %v", err)
	}
}

func TestStopCheckedBeforeTarget(t *testing.T) {
	ctx := context.Background()
	b, l := newTestBroker()
	refs, _ := b.SubmitBracket(ctx, longBracket())

	// Fills the entry and touches both exits in one bar.
	b.OnBar(bar(0, 20000, 20020, 19985, 20010))
	b.Flush(ctx)

	if _, ok := l.last(refs.Target); ok {
		t.Fatal("target must not fill when the stop is also touched")
	}
	ev, ok := l.last(refs.Stop)
	if !ok || ev.status != broker.StatusFilled || ev.price != 19990 {
		t.Fatalf("expected stop fill at 19990, got %+v", ev)
	}
	if len(l.pnls) != 1 || !approx(l.pnls[0], -500) {
		t.Fatalf("expected pnl -500, got %v", l.pnls)
	}
	if len(b.Trades()) != 1 || b.Trades()[0].ExitLeg != "stop" {
		t.Errorf("unexpected trades %+v", b.Trades())
	}
}

func TestShortBracketGapFills(t *testing.T) {
	ctx := context.Background()
	b, l := newTestBroker()
	refs, _ := b.SubmitBracket(ctx, broker.BracketIntent{
		Direction: market.Short, Entry: 100, Stop: 105, Target: 90, Size: 1,
	})

	// Opens above the limit: a sell limit fills at the better open.
	b.OnBar(bar(0, 101, 102, 99, 100))
	b.Flush(ctx)
	if ev, _ := l.last(refs.Entry); ev.price != 101 {
		t.Fatalf("expected entry at the open 101, got %f", ev.price)
	}

	// Gaps through the stop.
	b.OnBar(bar(1, 107, 108, 106, 107))
	b.Flush(ctx)
	if ev, _ := l.last(refs.Stop); ev.status != broker.StatusFilled || ev.price != 107 {
		t.Fatalf("expected stop at the gap open 107, got %+v", ev)
	}
	if !approx(l.pnls[0], -600) {
		t.Errorf("expected pnl -600, got %f", l.pnls[0])
	}
}

func TestMarginRejection(t *testing.T) {
	ctx := context.Background()
	b := New(Config{InitialBalance: 10000, Leverage: 15, Multiplier: 100}, zerolog.New(io.Discard))
	l := &listener{}
	b.SetListener(l)

	// 20000 * 0.1 * 100 / 15 = 13333 > 10000.
	in := longBracket()
	in.Size = 0.1
	refs, err := b.SubmitBracket(ctx, in)
	if err != nil {
		t.Fatalf("SubmitBracket() error = %v", err)
	}
	b.Flush(ctx)
	ev, ok := l.last(refs.Entry)
	if !ok || ev.status != broker.StatusMargin {
		t.Fatalf("expected MARGIN, got %+v", ev)
	}

	b.OnBar(bar(0, 19995, 20000, 19980, 19990))
	b.Flush(ctx)
	if b.HasPosition() {
		t.Fatal("a margin-rejected bracket must never fill")
	}
}

func TestCancelEntryCancelsExits(t *testing.T) {
	ctx := context.Background()
	b, l := newTestBroker()
	refs, _ := b.SubmitBracket(ctx, longBracket())

	if err := b.Cancel(ctx, refs.Entry); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	b.Flush(ctx)
	if ev, _ := l.last(refs.Entry); ev.status != broker.StatusCanceled {
		t.Fatalf("expected CANCELED, got %+v", ev)
	}
	if err := b.Cancel(ctx, refs.Target); !errors.Is(err, broker.ErrOrderNotFound) {
		t.Errorf("expected child target cancelled, got %v", err)
	}
	if err := b.Cancel(ctx, "missing"); !errors.Is(err, broker.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	b.OnBar(bar(0, 19995, 20000, 19980, 19990))
	if b.HasPosition() {
		t.Fatal("cancelled entry filled")
	}
}

func TestReplacementStopRelinksOCO(t *testing.T) {
	ctx := context.Background()
	b, l := newTestBroker()
	refs, _ := b.SubmitBracket(ctx, longBracket())

	if _, err := b.SubmitStop(ctx, broker.StopIntent{Direction: market.Long, Price: 20000, Size: 0.5}); err == nil {
		t.Fatal("expected an error without a position")
	}

	b.OnBar(bar(0, 20002, 20004, 19999, 20003))
	b.Flush(ctx)

	if err := b.Cancel(ctx, refs.Stop); err != nil {
		t.Fatalf("Cancel(stop) error = %v", err)
	}
	be, err := b.SubmitStop(ctx, broker.StopIntent{Direction: market.Long, Price: 20000, Size: 0.5, OCO: refs.Target})
	if err != nil {
		t.Fatalf("SubmitStop() error = %v", err)
	}

	// 19995 would have hit the breakeven stop only.
	b.OnBar(bar(1, 20003, 20004, 19995, 19996))
	b.Flush(ctx)
	if ev, _ := l.last(be); ev.status != broker.StatusFilled || ev.price != 20000 {
		t.Fatalf("expected breakeven fill at 20000, got %+v", ev)
	}
	if !approx(l.pnls[0], 0) {
		t.Errorf("expected flat pnl, got %f", l.pnls[0])
	}
	if err := b.Cancel(ctx, refs.Target); !errors.Is(err, broker.ErrOrderNotFound) {
		t.Errorf("expected target cancelled by OCO, got %v", err)
	}
}
