package engine

// Pending queues notifications produced while a service holds its lock so
// they are delivered after the lock is released, still before the mutating
// call returns.
type Pending struct {
	fns []func()
}

// Add queues fn. Nil funcs are ignored.
func (p *Pending) Add(fn func()) {
	if fn != nil {
		p.fns = append(p.fns, fn)
	}
}

// Flush runs queued funcs in order and empties the queue.
func (p *Pending) Flush() {
	fns := p.fns
	p.fns = nil
	for _, fn := range fns {
		fn()
	}
}

// Later queues a typed emit.
func Later[P any](p *Pending, e *Emitter, ev Event[P], payload P) {
	p.Add(func() { Emit(e, ev, payload) })
}

// Callback queues a config callback when one is set.
func Callback[P any](p *Pending, fn func(P), payload P) {
	if fn != nil {
		p.Add(func() { fn(payload) })
	}
}
