package gateway

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is an in-memory token bucket per caller. A caller is the token
// subject when auth is enabled and the remote IP otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	window   time.Duration
	now      func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows capacity requests per window for each caller
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Allow takes one token for key and reports whether the request may proceed,
// how many tokens are left and when the bucket is full again
func (l *RateLimiter) Allow(key string) (bool, int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		interval := l.interval()
		if refill := int(elapsed / interval); refill > 0 {
			b.tokens = min(l.capacity, b.tokens+refill)
			if b.tokens == l.capacity {
				b.lastRefill = now
			} else {
				// keep the unspent part of the interval for the next refill
				b.lastRefill = b.lastRefill.Add(time.Duration(refill) * interval)
			}
		}
	}

	resetAt := b.lastRefill.Add(l.window)
	if b.tokens == 0 {
		return false, 0, resetAt
	}
	b.tokens--
	return true, b.tokens, resetAt
}

// interval is the time it takes to refill one token
func (l *RateLimiter) interval() time.Duration {
	if l.capacity <= 0 {
		return l.window
	}
	return max(l.window/time.Duration(l.capacity), time.Nanosecond)
}

// Sweep drops buckets idle for more than two windows
func (l *RateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := 2 * l.window
	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) > threshold {
			delete(l.buckets, key)
		}
	}
}

// RateLimit rejects callers that exhausted their bucket with 429
func RateLimit(limiter *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			allowed, remaining, resetAt := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.capacity))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := int(time.Until(resetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				renderError(w, http.StatusTooManyRequests, "too_many_requests", fmt.Errorf("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if p := GetPrincipal(r.Context()); p != nil {
		return "sub:" + p.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
