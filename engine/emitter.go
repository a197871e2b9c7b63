package engine

import "sync"

// Event is a typed event key: the name used for dispatch plus the payload
// type its handlers receive.
type Event[P any] struct{ name string }

// NewEvent declares an event key.
func NewEvent[P any](name string) Event[P] { return Event[P]{name: name} }

// Name returns the dispatch name.
func (e Event[P]) Name() string { return e.name }

type subscription struct {
	id int64
	fn func(name string, payload any)
}

// Emitter is a synchronous publish/subscribe registry.
//
// Handlers for an event run inside Emit in registration order and receive the
// payload as-is. Emit dispatches over a snapshot of the handlers registered
// when it started: unsubscribing from inside a handler is safe and takes
// effect from the next Emit. A panicking handler propagates to the caller of
// Emit and the remaining handlers of that pass are skipped.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID int64
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[string][]subscription)}
}

// Watch registers fn for every listed event name. Returns an unsubscribe
// func that removes all of them; calling it more than once is a no-op.
func (e *Emitter) Watch(fn func(name string, payload any), names ...string) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	for _, n := range names {
		e.subs[n] = append(e.subs[n], subscription{id: id, fn: fn})
	}
	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id, names) })
	}
}

func (e *Emitter) remove(id int64, names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range names {
		subs := e.subs[n]
		// copy so snapshots handed to in-flight Emits are never mutated
		kept := make([]subscription, 0, len(subs))
		for _, s := range subs {
			if s.id != id {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(e.subs, n)
			continue
		}
		e.subs[n] = kept
	}
}

// Publish dispatches payload to the handlers of name.
func (e *Emitter) Publish(name string, payload any) {
	e.mu.RLock()
	handlers := e.subs[name]
	e.mu.RUnlock()
	for _, s := range handlers {
		s.fn(name, payload)
	}
}

// ListenerCount returns the number of handlers registered for name.
func (e *Emitter) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[name])
}

// On registers a typed handler for ev.
func On[P any](e *Emitter, ev Event[P], handler func(P)) func() {
	return e.Watch(func(_ string, payload any) {
		p, _ := payload.(P)
		handler(p)
	}, ev.name)
}

// Emit publishes a typed payload for ev.
func Emit[P any](e *Emitter, ev Event[P], payload P) {
	e.Publish(ev.name, payload)
}
