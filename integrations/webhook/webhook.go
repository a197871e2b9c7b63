package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"playkit/core"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when the
// sink has a secret.
const SignatureHeader = "X-Playkit-Signature"

// ErrClosed is returned by Close on a sink that is already closed.
var ErrClosed = errors.New("webhook: sink closed")

// Sink posts event envelopes to configured HTTP endpoints.
// Delivery runs on a single worker goroutine so OnEvent never blocks the
// service that emitted the event. When the queue is full the event is
// dropped and counted.
type Sink struct {
	client    *http.Client
	endpoints []string
	secret    []byte
	logger    *slog.Logger
	queueSize int

	queue   chan core.Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSecret signs every body with HMAC-SHA256.
func WithSecret(secret string) Option {
	return func(s *Sink) { s.secret = []byte(secret) }
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueueSize bounds the number of undelivered events (default 256).
func WithQueueSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// New creates a webhook sink and starts its delivery worker.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client:    &http.Client{Timeout: 2 * time.Second},
		logger:    slog.Default(),
		queueSize: 256,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	s.queue = make(chan core.Event, s.queueSize)
	s.done = make(chan struct{})
	go s.run()
	return s
}

// OnEvent queues the event for delivery to all endpoints.
func (s *Sink) OnEvent(e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
		s.logger.Warn("webhook queue full, dropping event", "feature", e.Feature, "type", e.Type)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Failed reports how many endpoint deliveries failed.
func (s *Sink) Failed() uint64 { return s.failed.Load() }

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.queue {
		s.deliver(e)
	}
}

func (s *Sink) deliver(e core.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("webhook encode failed", "feature", e.Feature, "type", e.Type, "error", err)
		return
	}
	for _, ep := range s.endpoints {
		if err := s.post(ep, body); err != nil {
			s.failed.Add(1)
			s.logger.Warn("webhook delivery failed", "endpoint", ep, "feature", e.Feature, "type", e.Type, "error", err)
		}
	}
}

func (s *Sink) post(endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
