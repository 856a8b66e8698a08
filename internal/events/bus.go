// Package events fans engine transitions out to metrics, the websocket hub
// and anything else that wants to observe a run.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSetupStarted          EventType = "SETUP_STARTED"
	EventDisplacementConfirmed EventType = "DISPLACEMENT_CONFIRMED"
	EventSetupRejected         EventType = "SETUP_REJECTED"
	EventSetupExpired          EventType = "SETUP_EXPIRED"
	EventOrderPlaced           EventType = "ORDER_PLACED"
	EventOrderFilled           EventType = "ORDER_FILLED"
	EventOrderCancelled        EventType = "ORDER_CANCELLED"
	EventBreakevenMoved        EventType = "BREAKEVEN_MOVED"
	EventTradeClosed           EventType = "TRADE_CLOSED"
	EventBiasChanged           EventType = "BIAS_CHANGED"
	EventDailyReset            EventType = "DAILY_RESET"
	EventLossCapHit            EventType = "LOSS_CAP_HIT"
	EventStateChanged          EventType = "STATE_CHANGED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
	synchronous bool
}

// NewEventBus creates a bus that runs each subscriber in its own goroutine
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// NewSynchronousEventBus creates a bus that calls subscribers inline, in
// subscription order, before Publish returns.
func NewSynchronousEventBus() *EventBus {
	eb := NewEventBus()
	eb.synchronous = true
	return eb
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := make([]Subscriber, 0, len(eb.subscribers[event.Type])+len(eb.allSubs))
	subs = append(subs, eb.subscribers[event.Type]...)
	subs = append(subs, eb.allSubs...)
	eb.mu.RUnlock()

	for _, sub := range subs {
		if eb.synchronous {
			deliver(sub, event)
			continue
		}
		go deliver(sub, event) // Run in goroutine to avoid blocking
	}
}

// deliver runs sub, containing a panic to that subscriber.
func deliver(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(event.Type)).Msg("Event subscriber panicked")
		}
	}()
	sub(event)
}

// PublishSetup publishes a setup lifecycle event
func (eb *EventBus) PublishSetup(eventType EventType, at time.Time, setupID, direction, reason string) {
	data := map[string]interface{}{
		"setup_id":  setupID,
		"direction": direction,
	}
	if reason != "" {
		data["reason"] = reason
	}
	eb.Publish(Event{Type: eventType, Timestamp: at, Data: data})
}

// PublishOrderPlaced publishes an order placed event
func (eb *EventBus) PublishOrderPlaced(at time.Time, setupID, direction string, entry, stop, target, size float64, score int) {
	eb.Publish(Event{
		Type:      EventOrderPlaced,
		Timestamp: at,
		Data: map[string]interface{}{
			"setup_id":  setupID,
			"direction": direction,
			"entry":     entry,
			"stop":      stop,
			"target":    target,
			"size":      size,
			"score":     score,
		},
	})
}

// PublishOrderUpdate publishes a fill or cancel notification
func (eb *EventBus) PublishOrderUpdate(eventType EventType, at time.Time, ref, role string, price float64) {
	eb.Publish(Event{
		Type:      eventType,
		Timestamp: at,
		Data: map[string]interface{}{
			"ref":   ref,
			"role":  role,
			"price": price,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(at time.Time, setupID string, pnl, dailyPnL float64) {
	eb.Publish(Event{
		Type:      EventTradeClosed,
		Timestamp: at,
		Data: map[string]interface{}{
			"setup_id":  setupID,
			"pnl":       pnl,
			"daily_pnl": dailyPnL,
		},
	})
}

// PublishBiasChanged publishes a bias change
func (eb *EventBus) PublishBiasChanged(at time.Time, from, to string) {
	eb.Publish(Event{
		Type:      EventBiasChanged,
		Timestamp: at,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishDaily publishes a daily reset or loss cap event
func (eb *EventBus) PublishDaily(eventType EventType, at time.Time, day time.Time, realized float64) {
	eb.Publish(Event{
		Type:      eventType,
		Timestamp: at,
		Data: map[string]interface{}{
			"trading_day":  day.Format("2006-01-02"),
			"realized_pnl": realized,
		},
	})
}

// PublishStateChanged publishes a state machine transition
func (eb *EventBus) PublishStateChanged(at time.Time, from, to string) {
	eb.Publish(Event{
		Type:      EventStateChanged,
		Timestamp: at,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}
