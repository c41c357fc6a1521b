package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
)

// RateLimiter provides per-key rate limiting using a token bucket algorithm.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max tokens
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

// NewRateLimiter creates a limiter allowing rate requests/sec with the given
// burst per key. Stale buckets are evicted until Stop is called.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanup(5*time.Minute, 10*time.Minute)
	return rl
}

// Allow reports whether key may proceed and, if not, how long until a token frees up.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastTime: now}
		rl.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastTime).Seconds() * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastTime = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

// Stop ends the eviction goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup(every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-idle)
			for key, b := range rl.buckets {
				if b.lastTime.Before(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimit rejects requests over the limiter's budget with 429 and Retry-After.
// Requests are keyed by client IP, which TrustedRealIP has already resolved.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if host, _, err := net.SplitHostPort(key); err == nil {
				key = host
			}
			ok, wait := limiter.Allow(key)
			if !ok {
				secs := int(wait.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				respond.Error(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
