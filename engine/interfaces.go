package engine

import "time"

// Service is the shape every feature service exposes to the binding layer.
type Service[S any] interface {
	// Snapshot returns a deep copy of the persisted state.
	Snapshot() S
	// Subscribe observes every event after which the snapshot changed.
	Subscribe(fn func(name string, payload any)) func()
}

// Ticker is implemented by services whose state decays with elapsed time.
// Tick must be idempotent: calling it again with no elapsed time is a no-op.
type Ticker interface {
	Tick(now time.Time)
}
