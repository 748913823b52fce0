// Package ratelimit implements a per-client sliding-window request limiter.
//
// PnL reconstruction for a cold wallet triggers a paged fetch against the
// venue's public API, so report requests are throttled per client IP to
// keep one dashboard user from exhausting the upstream quota.
package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// ErrLimitExceeded is returned when a client has used up its window quota.
var ErrLimitExceeded = errors.New("ratelimit: request limit exceeded")

// Limiter enforces at most Limit requests per Window for each key.
type Limiter struct {
	// Limit is the maximum number of requests allowed per window.
	Limit int

	// Window is the sliding window duration.
	Window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewLimiter creates a limiter allowing limit requests per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{
		Limit:  limit,
		Window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a request for key and returns nil if it is within limits,
// or ErrLimitExceeded if the key's window quota is used up.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.Window)

	recent := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.Limit {
		l.hits[key] = recent
		return ErrLimitExceeded
	}

	l.hits[key] = append(recent, now)
	return nil
}

// Middleware returns an HTTP middleware that rejects over-limit clients
// with 429. Keyed by r.RemoteAddr; mount chi's middleware.RealIP ahead of
// it so the key is the client address, not the proxy's.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := l.Allow(r.RemoteAddr); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
