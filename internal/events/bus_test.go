package events

import (
	"sync"
	"testing"
	"time"
)

func TestSynchronousBusDeliversInline(t *testing.T) {
	eb := NewSynchronousEventBus()
	var got []EventType
	eb.Subscribe(EventSetupStarted, func(e Event) { got = append(got, e.Type) })
	eb.SubscribeAll(func(e Event) { got = append(got, "ALL:"+e.Type) })

	at := time.Date(2025, 5, 6, 13, 45, 0, 0, time.UTC)
	eb.PublishSetup(EventSetupStarted, at, "id", "LONG", "")
	eb.PublishBiasChanged(at, "NONE", "LONG")

	expected := []EventType{EventSetupStarted, "ALL:" + EventSetupStarted, "ALL:" + EventBiasChanged}
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("event %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}

func TestAsyncBusDelivers(t *testing.T) {
	eb := NewEventBus()
	var wg sync.WaitGroup
	wg.Add(1)
	var event Event
	eb.Subscribe(EventTradeClosed, func(e Event) {
		event = e
		wg.Done()
	})
	eb.PublishTradeClosed(time.Time{}, "id", -250, -250)
	wg.Wait()

	if event.Timestamp.IsZero() {
		t.Errorf("expected timestamp to be filled in")
	}
	if event.Data["pnl"] != -250.0 {
		t.Errorf("expected pnl -250, got %v", event.Data["pnl"])
	}
}

func TestSubscriberPanicIsContained(t *testing.T) {
	eb := NewSynchronousEventBus()
	var delivered int
	eb.Subscribe(EventLossCapHit, func(Event) { panic("boom") })
	eb.SubscribeAll(func(Event) { delivered++ })

	eb.PublishDaily(EventLossCapHit, time.Now(), time.Now(), -1000)
	if delivered != 1 {
		t.Fatalf("expected later subscribers to still run, got %d deliveries", delivered)
	}
}

func TestSubscribeFromSubscriber(t *testing.T) {
	eb := NewSynchronousEventBus()
	var late int
	eb.Subscribe(EventBiasChanged, func(Event) {
		eb.Subscribe(EventDailyReset, func(Event) { late++ })
	})

	at := time.Date(2025, 5, 6, 0, 0, 0, 0, time.UTC)
	eb.PublishBiasChanged(at, "NONE", "LONG")
	eb.PublishDaily(EventDailyReset, at, at, 0)
	if late != 1 {
		t.Fatalf("expected the subscriber registered during delivery to run once, got %d", late)
	}
}
