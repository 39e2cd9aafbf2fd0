// Package bus provides the in-process analytics event bus. Subscribers
// (metrics, audit log) receive every published event; delivery is
// best-effort and never blocks the request path for long.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"deskbot/internal/domain"
)

const publishTimeout = 2 * time.Second

// InMemoryBus fans events out to named subscribers from a single dispatch
// goroutine, so subscribers observe events in publish order.
type InMemoryBus struct {
	events      chan domain.Event
	subscribers map[string]func(domain.Event)
	mu          sync.RWMutex
	closed      bool
	done        chan struct{}
	logger      *slog.Logger
}

// New creates a bus with the given buffer size and starts its dispatch loop.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &InMemoryBus{
		events:      make(chan domain.Event, bufferSize),
		subscribers: make(map[string]func(domain.Event)),
		done:        make(chan struct{}),
		logger:      logger,
	}
	go b.dispatch()
	return b
}

func (b *InMemoryBus) dispatch() {
	defer close(b.done)
	for ev := range b.events {
		b.mu.RLock()
		subs := make([]func(domain.Event), 0, len(b.subscribers))
		for _, fn := range b.subscribers {
			subs = append(subs, fn)
		}
		b.mu.RUnlock()
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Publish enqueues an event. If the bus is full it waits briefly, then
// drops the event with a warning rather than stalling the caller.
// The read lock is held across the send so Close cannot close the channel
// under an in-flight publish.
func (b *InMemoryBus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("publish to closed bus", "type", ev.Type)
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case b.events <- ev:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
		case <-timer.C:
			b.logger.Error("analytics event dropped: bus full",
				"type", ev.Type,
				"conversation", ev.ConversationID,
			)
		}
	}
}

// Subscribe registers a handler under a name. Re-registering a name
// replaces the previous handler.
func (b *InMemoryBus) Subscribe(name string, fn func(domain.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[name] = fn
}

// Close stops accepting events and waits for queued events to drain.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()
	<-b.done
}
