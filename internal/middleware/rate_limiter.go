package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pulsegram/backend/internal/logging"
)

// RateLimiter controls how frequently a caller may perform an action.
type RateLimiter interface {
	Allow(key string) bool
}

// LimiterOptions configures a KeyedLimiter. Requests per Window is the
// sustained rate; Burst is the bucket size. Buckets untouched for TTL are
// dropped.
type LimiterOptions struct {
	Requests int
	Window   time.Duration
	Burst    int
	TTL      time.Duration
	Now      func() time.Time
}

type bucket struct {
	tokens *rate.Limiter
	seen   time.Time
}

// KeyedLimiter keeps one token bucket per caller key. Write routes key by
// account id when the request is authenticated and by client IP otherwise, so
// an account keeps its budget across addresses.
type KeyedLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewKeyedLimiter(opts LimiterOptions) *KeyedLimiter {
	if opts.Requests <= 0 {
		opts.Requests = 1
	}
	if opts.Window <= 0 {
		opts.Window = time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.Requests
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * opts.Window
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(opts.Window / time.Duration(opts.Requests)),
		burst:   opts.Burst,
		ttl:     opts.TTL,
		now:     opts.Now,
	}
}

// Allow takes one token from key's bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	ok, _ := l.Check(key)
	return ok
}

// Check takes one token from key's bucket. When the bucket is empty nothing is
// taken and the returned duration says when the next token is due.
func (l *KeyedLimiter) Check(key string) (bool, time.Duration) {
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	if b.tokens.AllowN(now, 1) {
		return true, 0
	}
	r := b.tokens.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

// sweepLocked drops idle buckets, at most once per half TTL.
func (l *KeyedLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.ttl/2 {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

// Len reports how many keys are currently tracked.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

type delayReporter interface {
	Check(key string) (bool, time.Duration)
}

// RateLimit rejects requests with 429 once the key returned by keyFn exceeds
// the limiter's budget. Retry-After carries the wait when the limiter can
// report it. A nil limiter disables the check.
func RateLimit(limiter RateLimiter, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)

			allowed, wait := false, time.Second
			if dr, ok := limiter.(delayReporter); ok {
				allowed, wait = dr.Check(key)
			} else {
				allowed = limiter.Allow(key)
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			logging.FromContext(r.Context()).Warn("rate limit exceeded", "key", key, "retry_after", wait)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
		})
	}
}

func retryAfterSeconds(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
