package httpd

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// staleAfter is how long an idle client bucket is kept.
const staleAfter = 5 * time.Minute

type bucket struct {
	tokens float64
	last   time.Time
}

// RateLimiter is a per-client token bucket guarding the write endpoints.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // max tokens: 2× rate, at least 1
	now     func() time.Time
}

// NewRateLimiter allows perSec writes per client with a burst of twice
// that, never less than one write. now may be nil.
func NewRateLimiter(perSec float64, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		clients: make(map[string]*bucket),
		rate:    perSec,
		burst:   max(perSec*2, 1),
		now:     now,
	}
}

// Allow consumes one token for client. When the bucket is empty it returns
// false and how long until the next token.
func (l *RateLimiter) Allow(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[client]
	if !ok {
		l.clients[client] = &bucket{tokens: l.burst - 1, last: now}
		return true, 0
	}

	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.last).Seconds()*l.rate)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

// Middleware rejects requests over the limit with 429 and Retry-After.
// Clients are keyed by remote IP, so install after middleware.RealIP.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow(clientIP(r))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many writes, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CleanupLoop drops idle clients every interval until done is closed.
func (l *RateLimiter) CleanupLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-done:
			return
		}
	}
}

func (l *RateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-staleAfter)
	for id, b := range l.clients {
		if b.last.Before(cutoff) {
			delete(l.clients, id)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
