package events

import "testing"

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	s1 := bus.Subscribe()
	s2 := bus.Subscribe()
	defer bus.Unsubscribe(s1)
	defer bus.Unsubscribe(s2)

	bus.Publish(Event{Kind: ProofsSpent, Payload: []string{"secret1"}})

	e1 := <-s1.Events()
	e2 := <-s2.Events()

	if e1.Kind != ProofsSpent || e2.Kind != ProofsSpent {
		t.Fatalf("expected both subscribers to receive ProofsSpent, got %v and %v", e1.Kind, e2.Kind)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe()
	bus.Unsubscribe(s)

	if _, ok := <-s.Events(); ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestUnsubscribedSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe()
	bus.Unsubscribe(s)

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Kind: MintQuoteSeen})
		close(done)
	}()
	<-done
}
