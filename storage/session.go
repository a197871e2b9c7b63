package storage

import (
	"context"
	"log/slog"

	"playkit/core"
)

// Session is a session-scoped adapter. It behaves like a persistent adapter
// but keeps its keys under "session/<id>/<prefix>" so ending the session
// drops everything written during it without touching other namespaces.
type Session[T any] struct {
	*JSON[T]
	id string
}

// NewSession returns a session-scoped adapter over backend. The session id
// defaults to a fresh random id when empty.
func NewSession[T any](backend Backend, sessionID, prefix string, logger *slog.Logger) *Session[T] {
	if sessionID == "" {
		sessionID = newSessionID()
	}
	ns := "session/" + escapePrefix(sessionID)
	if prefix != "" {
		ns += "/" + escapePrefix(prefix)
	}
	a := New[T](backend, WithLogger(logger))
	a.prefix = ns
	return &Session[T]{JSON: a, id: sessionID}
}

// ID returns the session identifier.
func (s *Session[T]) ID() string { return s.id }

// End closes the session boundary, removing every key it wrote.
func (s *Session[T]) End(ctx context.Context) error {
	return s.Clear(ctx)
}

func newSessionID() string { return core.NewID() }
