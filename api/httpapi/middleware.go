package httpapi

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// middleware wraps h in the chain selected by o. Outermost first: access
// log, rate limit, API key, CORS.
func (o Options) middleware(h http.Handler) http.Handler {
	if o.AllowCORSOrigin != "" {
		h = withCORS(h, o.AllowCORSOrigin)
	}
	if keys := newKeyring(o.APIKeys); keys != nil {
		h = keys.guard(h)
	}
	if l := o.limiter(); l != nil {
		h = l.guard(h)
	}
	if o.Logger != nil {
		h = withAccessLog(h, o.Logger)
	}
	return h
}

func (o Options) limiter() *RateLimiter {
	if o.Limiter != nil {
		return o.Limiter
	}
	if !o.RateLimitEnabled || o.RateLimitRPM <= 0 || o.RateLimitBurst <= 0 {
		return nil
	}
	return NewRateLimiter(o.RateLimitRPM, o.RateLimitBurst)
}

func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Vary", "Origin")
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
		h.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	})
}

// keyring holds the accepted API keys.
type keyring [][]byte

func newKeyring(keys []string) keyring {
	var k keyring
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			k = append(k, []byte(key))
		}
	}
	return k
}

// accepts compares against every key in constant time.
func (k keyring) accepts(key string) bool {
	ok := 0
	for _, want := range k {
		ok |= subtle.ConstantTimeCompare(want, []byte(key))
	}
	return ok == 1
}

func (k keyring) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// preflight requests never carry credentials
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		switch key := apiKey(r); {
		case key == "":
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
		case !k.accepts(key):
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// apiKey reads the key from a bearer token, the X-API-Key header or the
// api_key query parameter, which websocket clients in browsers need.
func apiKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// clientKey identifies the caller for rate limiting: its API key, else
// its remote IP.
func clientKey(r *http.Request) string {
	if key := apiKey(r); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimiter is a per-client token bucket. Buckets idle long enough to
// have refilled are dropped, so the map only holds recently active clients.
type RateLimiter struct {
	perSecond float64
	burst     float64
	idle      time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter allows rpm requests per minute per client with bursts of
// up to burst requests.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	perSecond := float64(rpm) / 60
	return &RateLimiter{
		perSecond: perSecond,
		burst:     float64(burst),
		idle:      time.Duration(float64(burst) / perSecond * float64(time.Second)),
		buckets:   make(map[string]*bucket),
	}
}

// Allow takes one token for key. When the bucket is empty it returns false
// and how long until the next token.
func (l *RateLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.perSecond)
	}
	b.last = now
	if b.tokens < 1 {
		wait := (1 - b.tokens) / l.perSecond
		return false, time.Duration(wait * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// Len reports how many client buckets are tracked.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < l.idle {
		return
	}
	l.swept = now
	for k, b := range l.buckets {
		if now.Sub(b.last) >= l.idle {
			delete(l.buckets, k)
		}
	}
}

func (l *RateLimiter) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow(clientKey(r), time.Now())
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withAccessLog(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// statusRecorder captures the response status for access logs. It passes
// Hijack through so websocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpapi: response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
