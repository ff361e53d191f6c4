// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides a per-client-address token bucket for the
// HTTP surface.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eaglechat/gateway/pkg/logger"
)

// Bucket defaults: 20 requests per rolling 60 seconds, refilled
// continuously.
const (
	DefaultRequests = 20
	DefaultWindow   = 60 * time.Second

	// idleExpiry is how long an untouched bucket survives before the
	// janitor drops it.
	idleExpiry = 5 * time.Minute

	// janitorInterval is how often idle buckets are swept.
	janitorInterval = time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per client address. Buckets are
// created on first sight and expired after idle time to bound memory.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	limit rate.Limit
	burst int
	now   func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewLimiter builds a Limiter allowing requests per window for each
// client address and starts the idle-bucket janitor.
func NewLimiter(requests int, window time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow reports whether one request from addr may proceed now.
func (l *Limiter) Allow(addr string) bool {
	l.mu.Lock()
	b, ok := l.buckets[addr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[addr] = b
	}
	b.lastSeen = l.now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

// Close stops the janitor.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-idleExpiry)
	l.mu.Lock()
	for addr, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, addr)
		}
	}
	l.mu.Unlock()
}

// ClientAddr extracts the client address: the first X-Forwarded-For hop,
// then X-Real-IP, then the socket peer. The forwarding headers are only
// trustworthy behind a proxy that overwrites them; a gateway exposed
// directly must strip client-supplied values at the edge or a caller can
// rotate the header to escape its bucket.
func ClientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if addr := strings.TrimSpace(first); addr != "" {
			return addr
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces the limiter on every route except skipPaths.
// Exhausted clients get 429 with a Retry-After hint.
func (l *Limiter) Middleware(skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	retryAfter := strconv.Itoa(int(DefaultWindow / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			addr := ClientAddr(r)
			if !l.Allow(addr) {
				logger.Debugw("rate limit exceeded", "addr", addr, "path", r.URL.Path)
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
