package events

import (
	"sync"
	"testing"
	"time"

	"syncq/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(bus *Bus, types ...EventType) (func() []Event, func()) {
	var mu sync.Mutex
	var got []Event
	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, types...)
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), got...)
	}, unsub
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received, unsub := collect(bus, EventBeforeExec)
	defer unsub()

	cmd := domain.NewCommand(domain.CodeGetTimeline, domain.Timeline{Type: domain.TimelineHome}, time.Now())
	bus.Publish(Event{Type: EventBeforeExec, Command: cmd})

	require.Eventually(t, func() bool { return len(received()) == 1 }, time.Second, 5*time.Millisecond)
	ev := received()[0]
	assert.Equal(t, EventBeforeExec, ev.Type)
	assert.Equal(t, cmd.ID, ev.Command.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestBus_EventCarriesCopyOfCommand(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received, unsub := collect(bus, EventAfterExec)
	defer unsub()

	cmd := domain.NewCommand(domain.CodeLike, domain.EmptyTimeline, time.Now())
	bus.Publish(Event{Type: EventAfterExec, Command: cmd})
	cmd.Result.Message = "changed later"

	require.Eventually(t, func() bool { return len(received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, received()[0].Command.Result.Message)
}

func TestBus_MultipleTypesOneSubscriber(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received, unsub := collect(bus, EventOnStop, EventStateChanged)
	defer unsub()

	bus.Publish(Event{Type: EventStateChanged, State: "running"})
	bus.Publish(Event{Type: EventProgress, Text: "ignored"})
	bus.Publish(Event{Type: EventOnStop})

	require.Eventually(t, func() bool { return len(received()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, received(), 2)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received, unsub := collect(bus, EventProgress)
	unsub()
	unsub()

	bus.Publish(Event{Type: EventProgress})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, received())
}

func TestBus_SubscriberPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	calls := 0
	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
	}, EventProgress)
	defer unsub()

	bus.Publish(Event{Type: EventProgress})
	bus.Publish(Event{Type: EventProgress})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBus_FullBufferDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	unsub := bus.Subscribe(func(e Event) { <-block }, EventProgress)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(Event{Type: EventProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(block)
}

func TestBus_NilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{Type: EventOnStop}) })
}
