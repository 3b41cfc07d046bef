// Package events fans negotiation changes out to live clients.
//
// Events are notifications with a small summary; clients fetch full state over the API.
package events

import (
	"log"
	"sync"
)

// Event is implemented by every event type.
type Event interface {
	// EventName returns the event type, e.g. "negotiation.updated".
	EventName() string
	// Owner returns the user the event belongs to.
	Owner() string
}

// Listener handles one event. Listeners run on the emitting goroutine and must not block.
type Listener func(Event)

// Emitter manages subscriptions.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	logger    *log.Logger
}

// NewEmitter creates an emitter. logger may be nil.
func NewEmitter(logger *log.Logger) *Emitter {
	return &Emitter{listeners: make(map[int]Listener), logger: logger}
}

// Subscribe registers fn for all events and returns its unsubscribe function.
func (e *Emitter) Subscribe(fn Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Len returns the number of subscribers.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Emit dispatches ev to every subscriber.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	fns := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	if e.logger != nil && len(fns) > 0 {
		e.logger.Printf("Events: %s to %d listeners", ev.EventName(), len(fns))
	}
	for _, fn := range fns {
		fn(ev)
	}
}
