package service

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// EventKind identifies a lifecycle event type.
type EventKind string

const (
	EventServiceRegistered EventKind = "SERVICE_REGISTERED"
	EventServiceStarted    EventKind = "SERVICE_STARTED"
	EventServiceStopped    EventKind = "SERVICE_STOPPED"
	EventServiceError      EventKind = "SERVICE_ERROR"
	EventHealthCheckFailed EventKind = "HEALTH_CHECK_FAILED"
	EventBatchCompleted    EventKind = "BATCH_OPERATION_COMPLETED"

	// EventAny subscribes a handler to every kind.
	EventAny EventKind = "*"
)

// Event is an immutable lifecycle notification. Service is empty for
// batch-level events.
type Event struct {
	Service   string         `json:"service,omitempty"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler receives events synchronously on the emitting goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events synchronously to exact-kind and wildcard
// subscribers in their combined subscription order. A panicking handler is
// recovered and logged; it cannot block later handlers or surface into the
// emitting operation.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventKind][]subscription
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[EventKind][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for kind (EventAny for all kinds) and
// returns a function that removes the subscription. The returned function
// is safe to call more than once.
func (b *Bus) Subscribe(kind EventKind, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(kind, id) })
	}
}

func (b *Bus) unsubscribe(kind EventKind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[kind]
	for i, sub := range list {
		if sub.id == id {
			b.subs[kind] = slices.Delete(list, i, i+1)
			return
		}
	}
}

// Emit delivers evt to subscribers. A zero timestamp is filled with now.
// Handlers run outside the bus lock, so they may subscribe or unsubscribe.
func (b *Bus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	merged := slices.Clone(b.subs[evt.Kind])
	if evt.Kind != EventAny {
		merged = append(merged, b.subs[EventAny]...)
	}
	b.mu.RUnlock()

	// Subscription ids restore the global registration order across the
	// exact and wildcard lists.
	slices.SortFunc(merged, func(a, b subscription) int {
		return cmp.Compare(a.id, b.id)
	})

	for _, sub := range merged {
		b.dispatch(sub.handler, evt)
	}
}

func (b *Bus) dispatch(handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", string(evt.Kind),
				"service", evt.Service,
				"panic", r)
		}
	}()
	handler(evt)
}
