package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// subscriptionCounter generates unique subscription IDs. An atomic counter
// avoids collisions under concurrent Subscribe calls.
var subscriptionCounter int64

// Handler processes a single event.
type Handler func(Event)

// Bus is the event distribution interface used by all protocol components.
type Bus interface {
	// Publish enqueues an event for delivery. It never blocks: if the internal
	// buffer is full the event is dropped.
	Publish(event Event)

	// Subscribe registers a handler for an event type. Use TypeAny to receive
	// every event. Returns a subscription ID for Unsubscribe.
	Subscribe(eventType Type, handler Handler) string

	// Unsubscribe removes a subscription.
	Unsubscribe(subscriptionID string)

	// Stop shuts the bus down. Events published after Stop are discarded.
	Stop()
}

// SimpleBus is the default in-process Bus implementation. A single dispatcher
// goroutine drains a buffered channel so publishers never wait on handlers.
type SimpleBus struct {
	mu       sync.RWMutex
	handlers map[Type]map[string]Handler
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
	logger   *zap.Logger
}

// NewBus creates a started SimpleBus with the given buffer size.
// A bufferSize below 1 defaults to 256.
func NewBus(bufferSize int, logger *zap.Logger) *SimpleBus {
	if bufferSize < 1 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &SimpleBus{
		handlers: make(map[Type]map[string]Handler),
		events:   make(chan Event, bufferSize),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
	go b.dispatch()
	return b
}

// Publish enqueues an event for delivery, dropping it if the buffer is full.
func (b *SimpleBus) Publish(event Event) {
	select {
	case <-b.done:
	case b.events <- event:
	default:
		// Full buffer: drop rather than block the emitter.
		b.dropped.Add(1)
	}
}

// Subscribe registers a handler for an event type.
func (b *SimpleBus) Subscribe(eventType Type, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe removes a subscription by ID.
func (b *SimpleBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.handlers {
		delete(subs, subscriptionID)
	}
}

// Stop shuts down the dispatcher.
func (b *SimpleBus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// Dropped reports how many events were discarded due to a full buffer.
func (b *SimpleBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *SimpleBus) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.events:
			b.deliver(ev)
		}
	}
}

func (b *SimpleBus) deliver(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[ev.EventType()])+len(b.handlers[TypeAny]))
	for _, h := range b.handlers[ev.EventType()] {
		handlers = append(handlers, h)
	}
	for _, h := range b.handlers[TypeAny] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event_type", string(ev.EventType())),
						zap.Any("panic", r),
					)
				}
			}()
			h(ev)
		}()
	}
}

var _ Bus = (*SimpleBus)(nil)
