package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBusPublishReachesSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch1, cancel1 := bus.Subscribe("sess")
	defer cancel1()
	ch2, cancel2 := bus.Subscribe("sess")
	defer cancel2()

	bus.Publish(Event{SessionID: "sess", Type: EventAgentStarted, Agent: "extract"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventAgentStarted, ev.Type)
			assert.Equal(t, "extract", ev.Agent)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusIsolatesSessions(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch, cancel := bus.Subscribe("other")
	defer cancel()

	bus.Publish(Event{SessionID: "sess", Type: EventAgentStarted})

	select {
	case <-ch:
		t.Fatal("event leaked across sessions")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch, cancel := bus.Subscribe("sess")
	cancel()

	bus.Publish(Event{SessionID: "sess", Type: EventAgentStarted})

	select {
	case _, open := <-ch:
		// The channel is never closed, so any receive here means a
		// delivery after cancel.
		require.True(t, open)
		t.Fatal("received event after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch, cancel := bus.Subscribe("sess")
	defer cancel()

	// Overfill the buffer without draining; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{SessionID: "sess", Type: EventAgentStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffer holds at most its capacity.
	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	assert.LessOrEqual(t, count, 32)
	assert.Greater(t, count, 0)
}
