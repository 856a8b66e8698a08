// Package paper simulates bracket execution against historical bars.
//
// Orders fill only inside OnBar. Notifications are queued and delivered to
// the listener by Flush, so the listener may call back into the broker.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VeinDevTtv/vein-smc-bot/internal/broker"
	"github.com/VeinDevTtv/vein-smc-bot/internal/logging"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// Config holds the simulated account parameters.
type Config struct {
	InitialBalance float64
	Leverage       float64
	Multiplier     float64
}

type legKind string

const (
	legEntry  legKind = "entry"
	legStop   legKind = "stop"
	legTarget legKind = "target"
)

type paperOrder struct {
	ref       string
	kind      legKind
	direction market.Direction
	price     float64
	size      float64
	parent    string
	oco       string
	active    bool
	// armed is false for exits waiting on their entry.
	armed bool
}

type position struct {
	direction market.Direction
	entry     float64
	size      float64
	margin    float64
	openedAt  time.Time
}

type notice struct {
	ref    string
	status broker.Status
	price  float64
	closed bool
	pnl    float64
}

// Trade is one completed round trip.
type Trade struct {
	Direction market.Direction `json:"direction"`
	Entry     float64          `json:"entry"`
	Exit      float64          `json:"exit"`
	Size      float64          `json:"size"`
	PnL       float64          `json:"pnl"`
	ExitLeg   string           `json:"exit_leg"`
	OpenedAt  time.Time        `json:"opened_at"`
	ClosedAt  time.Time        `json:"closed_at"`
}

// Broker is an in-memory broker.Broker.
type Broker struct {
	mu       sync.Mutex
	cfg      Config
	balance  float64
	orders   map[string]*paperOrder
	seq      []string
	position *position
	last     float64
	queue    []notice
	trades   []Trade
	listener broker.Listener
	logger   zerolog.Logger
}

// New creates a paper broker.
func New(cfg Config, logger zerolog.Logger) *Broker {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	return &Broker{
		cfg:     cfg,
		balance: cfg.InitialBalance,
		orders:  make(map[string]*paperOrder),
		logger:  logging.WithComponent(logger, "PaperBroker"),
	}
}

// SetListener registers the receiver of order notifications.
func (b *Broker) SetListener(l broker.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

// SubmitBracket registers a limit entry with a stop and target that arm once
// the entry fills. A bracket whose margin exceeds the free cash is accepted
// and then reported with StatusMargin.
func (b *Broker) SubmitBracket(_ context.Context, in broker.BracketIntent) (broker.BracketRefs, error) {
	if !in.Direction.IsActive() || in.Size <= 0 || in.Entry <= 0 {
		return broker.BracketRefs{}, fmt.Errorf("invalid bracket %+v", in)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	refs := broker.BracketRefs{Entry: uuid.NewString(), Stop: uuid.NewString(), Target: uuid.NewString()}
	b.add(&paperOrder{ref: refs.Entry, kind: legEntry, direction: in.Direction, price: in.Entry, size: in.Size, active: true, armed: true})
	b.add(&paperOrder{ref: refs.Stop, kind: legStop, direction: in.Direction, price: in.Stop, size: in.Size, parent: refs.Entry, oco: refs.Target, active: true})
	b.add(&paperOrder{ref: refs.Target, kind: legTarget, direction: in.Direction, price: in.Target, size: in.Size, parent: refs.Entry, oco: refs.Stop, active: true})

	if need := b.margin(in.Entry, in.Size); need > b.cashLocked() {
		b.logger.Warn().
			Err(broker.ErrInsufficientMargin).
			Float64("required", need).
			Float64("cash", b.cashLocked()).
			Msg("Bracket rejected for margin")
		b.deactivate(refs.Entry)
		b.queue = append(b.queue, notice{ref: refs.Entry, status: broker.StatusMargin})
		return refs, nil
	}

	b.queue = append(b.queue, notice{ref: refs.Entry, status: broker.StatusAccepted, price: in.Entry})
	b.logger.Debug().
		Str("entry_ref", refs.Entry).
		Str("direction", string(in.Direction)).
		Float64("entry", in.Entry).
		Float64("stop", in.Stop).
		Float64("target", in.Target).
		Float64("size", in.Size).
		Msg("Bracket accepted")
	return refs, nil
}

// SubmitStop places a protective stop for the open position. The OCO order,
// if any, is relinked to the new stop.
func (b *Broker) SubmitStop(_ context.Context, in broker.StopIntent) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.position == nil {
		return "", fmt.Errorf("submit stop: no open position")
	}
	ref := uuid.NewString()
	o := &paperOrder{ref: ref, kind: legStop, direction: in.Direction, price: in.Price, size: in.Size, oco: in.OCO, active: true, armed: true}
	if sib, ok := b.orders[in.OCO]; ok && sib.active {
		sib.oco = ref
	}
	b.add(o)
	return ref, nil
}

// Cancel cancels a working order. Cancelling an entry also cancels its exits.
func (b *Broker) Cancel(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[ref]
	if !ok || !o.active {
		return fmt.Errorf("cancel %s: %w", ref, broker.ErrOrderNotFound)
	}
	b.deactivate(ref)
	b.queue = append(b.queue, notice{ref: ref, status: broker.StatusCanceled})
	return nil
}

// Equity is the balance plus the open position marked at the last close.
func (b *Broker) Equity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equityLocked()
}

// Cash is the balance less the margin held by the open position.
func (b *Broker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cashLocked()
}

// OnBar fills working orders the bar trades through. Exits are checked in
// the same bar an entry fills, the stop before the target.
func (b *Broker) OnBar(bar market.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.position == nil {
		for _, ref := range b.seq {
			o := b.orders[ref]
			if o.active && o.kind == legEntry && touches(o, bar) {
				b.fillEntry(o, bar)
				break
			}
		}
	}
	if b.position != nil {
		b.checkExits(bar)
	}
	b.last = bar.Close
	b.compact()
}

func (b *Broker) fillEntry(o *paperOrder, bar market.Bar) {
	price := o.price
	if o.direction == market.Long {
		price = math.Min(bar.Open, o.price)
	} else {
		price = math.Max(bar.Open, o.price)
	}
	o.active = false
	b.position = &position{
		direction: o.direction,
		entry:     price,
		size:      o.size,
		margin:    b.margin(price, o.size),
		openedAt:  bar.Time,
	}
	for _, c := range b.orders {
		if c.parent == o.ref && c.active {
			c.armed = true
		}
	}
	b.queue = append(b.queue, notice{ref: o.ref, status: broker.StatusFilled, price: price})
	b.logger.Debug().Str("ref", o.ref).Float64("price", price).Msg("Entry filled")
}

func (b *Broker) checkExits(bar market.Bar) {
	var stop, target *paperOrder
	for _, ref := range b.seq {
		o := b.orders[ref]
		if !o.active || !o.armed {
			continue
		}
		switch o.kind {
		case legStop:
			stop = o
		case legTarget:
			target = o
		}
	}

	pos := b.position
	switch {
	case stop != nil && touches(stop, bar):
		price := stop.price
		if pos.direction == market.Long {
			price = math.Min(bar.Open, stop.price)
		} else {
			price = math.Max(bar.Open, stop.price)
		}
		b.fillExit(stop, price, bar)
	case target != nil && touches(target, bar):
		price := target.price
		if pos.direction == market.Long {
			price = math.Max(bar.Open, target.price)
		} else {
			price = math.Min(bar.Open, target.price)
		}
		b.fillExit(target, price, bar)
	}
}

func (b *Broker) fillExit(o *paperOrder, price float64, bar market.Bar) {
	pos := b.position
	pnl := (price - pos.entry) * pos.size * b.cfg.Multiplier * pos.direction.Sign()
	b.balance += pnl
	b.position = nil

	o.active = false
	if sib, ok := b.orders[o.oco]; ok {
		sib.active = false
	}
	for _, ref := range b.seq {
		if x := b.orders[ref]; x.kind != legEntry {
			x.active = false
		}
	}

	b.trades = append(b.trades, Trade{
		Direction: pos.direction,
		Entry:     pos.entry,
		Exit:      price,
		Size:      pos.size,
		PnL:       pnl,
		ExitLeg:   string(o.kind),
		OpenedAt:  pos.openedAt,
		ClosedAt:  bar.Time,
	})
	b.queue = append(b.queue,
		notice{ref: o.ref, status: broker.StatusFilled, price: price},
		notice{closed: true, pnl: pnl},
	)
	b.logger.Debug().
		Str("ref", o.ref).
		Str("leg", string(o.kind)).
		Float64("price", price).
		Float64("pnl", pnl).
		Float64("balance", b.balance).
		Msg("Position closed")
}

// Flush delivers queued notifications until none remain.
func (b *Broker) Flush(ctx context.Context) {
	for {
		b.mu.Lock()
		pending := b.queue
		b.queue = nil
		l := b.listener
		b.mu.Unlock()

		if len(pending) == 0 || l == nil {
			return
		}
		for _, n := range pending {
			if n.closed {
				l.OnTradeClosed(ctx, n.pnl)
				continue
			}
			l.OnOrderEvent(ctx, n.ref, n.status, n.price)
		}
	}
}

// Trades returns the completed round trips.
func (b *Broker) Trades() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// HasPosition reports whether a position is open.
func (b *Broker) HasPosition() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position != nil
}

func (b *Broker) add(o *paperOrder) {
	b.orders[o.ref] = o
	b.seq = append(b.seq, o.ref)
}

// deactivate cancels ref and, for an entry, its exits.
func (b *Broker) deactivate(ref string) {
	o := b.orders[ref]
	o.active = false
	if o.kind != legEntry {
		return
	}
	for _, c := range b.orders {
		if c.parent == ref {
			c.active = false
		}
	}
}

// compact forgets finished orders.
func (b *Broker) compact() {
	kept := b.seq[:0]
	for _, ref := range b.seq {
		if b.orders[ref].active {
			kept = append(kept, ref)
			continue
		}
		delete(b.orders, ref)
	}
	b.seq = kept
}

func (b *Broker) margin(price, size float64) float64 {
	return price * size * b.cfg.Multiplier / b.cfg.Leverage
}

func (b *Broker) equityLocked() float64 {
	eq := b.balance
	if p := b.position; p != nil && b.last > 0 {
		eq += (b.last - p.entry) * p.size * b.cfg.Multiplier * p.direction.Sign()
	}
	return eq
}

func (b *Broker) cashLocked() float64 {
	cash := b.balance
	if b.position != nil {
		cash -= b.position.margin
	}
	return cash
}

// touches reports whether bar trades through o's price in the direction
// that fills it.
func touches(o *paperOrder, bar market.Bar) bool {
	buy := o.direction == market.Long
	if o.kind != legEntry {
		buy = !buy
	}
	switch o.kind {
	case legEntry, legTarget:
		if buy {
			return bar.Low <= o.price
		}
		return bar.High >= o.price
	default:
		if buy {
			return bar.High >= o.price
		}
		return bar.Low <= o.price
	}
}
