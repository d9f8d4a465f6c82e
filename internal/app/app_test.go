package app

import (
	"context"
	"testing"
	"time"

	"steamwatch/internal/eventbus"
	logx "steamwatch/pkg/logx"
)

func TestDrainEventsStopsWhenSubscriptionCloses(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)

	done := make(chan struct{})
	go func() {
		drainEvents(context.Background(), logx.Nop(), events)
		close(done)
	}()

	bus.Publish(eventbus.Event{Type: "steam.transition"})
	unsub()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not stop when the subscription closed")
	}
}

func TestDrainEventsStopsOnCancel(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		drainEvents(ctx, logx.Nop(), events)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not stop on cancellation")
	}
}
