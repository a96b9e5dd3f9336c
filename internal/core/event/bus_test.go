package event

import (
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	if bus.Subscribers() != 2 {
		t.Fatalf("Subscribers: got %d, want 2", bus.Subscribers())
	}

	bus.Publish(Event{Collection: "albums", Type: TypeCreate})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Collection != "albums" || e.Type != TypeCreate {
				t.Errorf("subscriber %d: got %+v", i, e)
			}
		default:
			t.Errorf("subscriber %d: no event delivered", i)
		}
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe()
	cancel()

	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers after cancel: got %d", bus.Subscribers())
	}
	if _, open := <-ch; open {
		t.Error("channel not closed by cancel")
	}

	// Cancel is safe to call twice.
	cancel()
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()

	_, cancel := bus.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; the publisher must not stall.
	for i := 0; i < 200; i++ {
		bus.Publish(Event{Collection: "albums", Type: TypeUpdate})
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{Collection: "albums", Type: TypeRemove})
}
