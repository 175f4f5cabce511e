package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/juju/ratelimit"
)

// RateLimiter keeps a token bucket per client. Clients are keyed by their
// bearer credential when present, otherwise by remote address.
type RateLimiter struct {
	rate     float64
	capacity int64
	onReject func()

	mu      sync.RWMutex
	clients map[string]*ratelimit.Bucket
}

// NewRateLimiter allows rate requests per second with bursts up to capacity.
// onReject may be nil.
func NewRateLimiter(rate float64, capacity int64, onReject func()) *RateLimiter {
	return &RateLimiter{
		rate:     rate,
		capacity: capacity,
		onReject: onReject,
		clients:  make(map[string]*ratelimit.Bucket),
	}
}

func (rl *RateLimiter) bucket(key string) *ratelimit.Bucket {
	rl.mu.RLock()
	b, ok := rl.clients[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.clients[key]; !ok {
		b = ratelimit.NewBucketWithRate(rl.rate, rl.capacity)
		rl.clients[key] = b
	}
	return b
}

// Prune forgets clients whose bucket has refilled, returning how many went
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, b := range rl.clients {
		if b.Available() >= b.Capacity() {
			delete(rl.clients, key)
			n++
		}
	}
	return n
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

// Handler rejects requests with 429 once a client's bucket is empty
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := rl.bucket(clientKey(r))

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.capacity, 10))
		if b.TakeAvailable(1) < 1 {
			if rl.onReject != nil {
				rl.onReject()
			}
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(rl.rate)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(b.Available(), 10))
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if token := GetBearerToken(r.Context()); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

func retryAfter(rate float64) int {
	if rate <= 0 {
		return 60
	}
	s := int(1/rate + 0.999)
	if s < 1 {
		s = 1
	}
	return s
}
