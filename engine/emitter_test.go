package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scored struct{ Score int }

var (
	evScored = NewEvent[*scored]("scored")
	evReset  = NewEvent[struct{}]("reset")
)

func TestEmitterRegistrationOrder(t *testing.T) {
	em := NewEmitter()
	var order []int
	On(em, evScored, func(*scored) { order = append(order, 1) })
	On(em, evScored, func(*scored) { order = append(order, 2) })
	On(em, evScored, func(*scored) { order = append(order, 3) })

	Emit(em, evScored, &scored{Score: 1})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitterPassesPayloadWithoutCopy(t *testing.T) {
	em := NewEmitter()
	payload := &scored{Score: 7}
	var got *scored
	On(em, evScored, func(p *scored) { got = p })
	Emit(em, evScored, payload)
	assert.Same(t, payload, got)
}

func TestEmitterUnsubscribe(t *testing.T) {
	em := NewEmitter()
	count := 0
	off := On(em, evScored, func(*scored) { count++ })
	Emit(em, evScored, &scored{})
	off()
	off()
	Emit(em, evScored, &scored{})
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, em.ListenerCount(evScored.Name()))
}

func TestEmitterUnsubscribeDuringEmitUsesSnapshot(t *testing.T) {
	em := NewEmitter()
	calls := []string{}
	var offSecond func()
	On(em, evScored, func(*scored) {
		calls = append(calls, "first")
		offSecond()
	})
	offSecond = On(em, evScored, func(*scored) { calls = append(calls, "second") })

	require.NotPanics(t, func() { Emit(em, evScored, &scored{}) })
	// the second handler was part of the snapshot for this pass
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	Emit(em, evScored, &scored{})
	assert.Equal(t, []string{"first"}, calls)
}

func TestEmitterHandlerPanicPropagates(t *testing.T) {
	em := NewEmitter()
	after := false
	On(em, evReset, func(struct{}) { panic("boom") })
	On(em, evReset, func(struct{}) { after = true })

	assert.PanicsWithValue(t, "boom", func() { Emit(em, evReset, struct{}{}) })
	assert.False(t, after)
}

func TestEmitterWatchMultipleNames(t *testing.T) {
	em := NewEmitter()
	var names []string
	off := em.Watch(func(name string, _ any) { names = append(names, name) }, evScored.Name(), evReset.Name())
	Emit(em, evScored, &scored{})
	Emit(em, evReset, struct{}{})
	em.Publish("other", nil)
	off()
	Emit(em, evReset, struct{}{})
	assert.Equal(t, []string{"scored", "reset"}, names)
}

func TestPendingFlushOrder(t *testing.T) {
	em := NewEmitter()
	var got []string
	On(em, evScored, func(*scored) { got = append(got, "emit") })

	var p Pending
	Later(&p, em, evScored, &scored{})
	Callback(&p, func(s string) { got = append(got, s) }, "callback")
	Callback[string](&p, nil, "skipped")
	assert.Empty(t, got)

	p.Flush()
	assert.Equal(t, []string{"emit", "callback"}, got)
	p.Flush()
	assert.Len(t, got, 2)
}
