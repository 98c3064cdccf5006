package events

import (
	"sync"
	"time"

	"syncq/internal/domain"

	"github.com/rs/zerolog/log"
)

// EventType represents the queue transition being broadcast.
type EventType string

const (
	// EventBeforeExec is published when a command is about to be executed.
	EventBeforeExec EventType = "before_exec"
	// EventAfterExec is published when a command execution ended, with its placement.
	EventAfterExec EventType = "after_exec"
	// EventProgress carries progress text reported by a running command.
	EventProgress EventType = "progress"
	// EventOnStop is published when the worker stopped.
	EventOnStop EventType = "on_stop"
	// EventStateChanged is published on every worker state transition.
	EventStateChanged EventType = "state_changed"
	// EventQueueChanged is published when a command was submitted, resent or deleted.
	EventQueueChanged EventType = "queue_changed"
)

// AllTypes lists every event type, for subscribers that want everything.
var AllTypes = []EventType{
	EventBeforeExec, EventAfterExec, EventProgress, EventOnStop, EventStateChanged, EventQueueChanged,
}

type Event struct {
	Type      EventType
	Timestamp time.Time
	// Command is a copy of the command concerned, if any.
	Command *domain.Command
	// Queue is where the command was placed after execution; empty when dropped.
	Queue domain.QueueType
	State string
	Text  string
}

type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Every subscriber gets its own
// buffered channel; when it is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for the given event types. fn is called from a
// dedicated goroutine. The returned function unsubscribes.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return func() {}
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	go func() {
		for ev := range ch {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("event subscriber panicked")
					}
				}()
				fn(ev)
			}()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, c := range subs {
					if c == ch {
						b.subscribers[t] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
}

// Publish delivers ev to the subscribers of ev.Type without blocking.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Command != nil {
		ev.Command = ev.Command.Clone()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[ev.Type] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]bool)
	for t, subs := range b.subscribers {
		for _, ch := range subs {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
		delete(b.subscribers, t)
	}
}

// LogSubscriber writes every event to the global logger.
func LogSubscriber(ev Event) {
	e := log.Info()
	if ev.Type == EventProgress || ev.Type == EventBeforeExec {
		e = log.Debug()
	}
	e = e.Str("event", string(ev.Type))
	if ev.Command != nil {
		e = e.Str("command_id", ev.Command.ID).
			Str("code", string(ev.Command.Code)).
			Int("retries_left", ev.Command.Result.RetriesLeft)
		if ev.Command.Result.Message != "" {
			e = e.Str("message", ev.Command.Result.Message)
		}
	}
	if ev.Queue != "" {
		e = e.Str("queue", string(ev.Queue))
	}
	if ev.State != "" {
		e = e.Str("state", ev.State)
	}
	if ev.Text != "" {
		e = e.Str("text", ev.Text)
	}
	e.Msg("queue event")
}
