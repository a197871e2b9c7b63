package core

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces opaque unique identifiers for entities.
type IDGenerator func() string

var fallbackSeq atomic.Uint64

// NewID returns a random UUID. If the system entropy source fails it falls
// back to a time and counter based identifier that is still unique within
// the process.
func NewID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	return fallbackID()
}

func fallbackID() string {
	var b [4]byte
	_, _ = cryptorand.Read(b[:])
	return fmt.Sprintf("%x-%d-%s", time.Now().UnixNano(), fallbackSeq.Add(1), hex.EncodeToString(b[:]))
}

// SequentialIDs returns a deterministic generator ("<prefix>-1", "<prefix>-2", ...).
// Useful in tests and fixtures.
func SequentialIDs(prefix string) IDGenerator {
	var n atomic.Uint64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
