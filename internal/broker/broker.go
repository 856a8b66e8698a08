// Package broker defines the port between the setup engine and whatever
// executes its orders: order intents go out, status notifications come back.
package broker

import (
	"context"
	"errors"

	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// Errors returned by broker implementations
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInsufficientMargin = errors.New("insufficient margin")
)

// Status is an order status notification.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELED"
	StatusRejected Status = "REJECTED"
	StatusMargin   Status = "MARGIN"
	StatusExpired  Status = "EXPIRED"
)

// IsTerminal reports whether no further notifications follow for the order.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusMargin, StatusExpired:
		return true
	default:
		return false
	}
}

// BracketIntent is a limit entry with attached stop and target exits.
type BracketIntent struct {
	Direction market.Direction `json:"direction"`
	Entry     float64          `json:"entry"`
	Stop      float64          `json:"stop"`
	Target    float64          `json:"target"`
	Size      float64          `json:"size"`
}

// BracketRefs are the broker references of the three bracket legs.
type BracketRefs struct {
	Entry  string `json:"entry"`
	Stop   string `json:"stop"`
	Target string `json:"target"`
}

// StopIntent is a standalone protective stop. OCO names the sibling order
// that is canceled when this stop fills, and vice versa.
type StopIntent struct {
	Direction market.Direction `json:"direction"`
	Price     float64          `json:"price"`
	Size      float64          `json:"size"`
	OCO       string           `json:"oco,omitempty"`
}

// Broker executes order intents.
type Broker interface {
	SubmitBracket(ctx context.Context, intent BracketIntent) (BracketRefs, error)
	SubmitStop(ctx context.Context, intent StopIntent) (string, error)
	Cancel(ctx context.Context, ref string) error
	Equity() float64
	Cash() float64
}

// Listener receives broker notifications.
type Listener interface {
	OnOrderEvent(ctx context.Context, ref string, status Status, price float64)
	OnTradeClosed(ctx context.Context, pnl float64)
}
