// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RateLimiter is a process-local token-bucket limiter with one bucket per
// key (the caller origin by default, the same identity votes are recorded
// under). Buckets idle for longer than the idle window are swept on a later
// lookup. Replays marked by IdempotencyValidator are not charged.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// defaultIdleWindow is how long an unused bucket is kept.
const defaultIdleWindow = 10 * time.Minute

// fallbackRetryAfter (seconds) is sent when no refill time can be computed.
const fallbackRetryAfter = 60

// KeyFunc maps a request to a bucket key.
type KeyFunc func(*gin.Context) string

// KeyByOrigin buckets by caller origin ("ip:<origin>").
func KeyByOrigin() KeyFunc {
	return func(c *gin.Context) string {
		return "ip:" + OriginFrom(c)
	}
}

// KeyByOriginAndRoute buckets per origin and route, so voting on one script
// does not exhaust the budget for browsing.
func KeyByOriginAndRoute() KeyFunc {
	return func(c *gin.Context) string {
		return "ip:" + OriginFrom(c) + "|" + c.Request.Method + " " + c.FullPath()
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter holds the per-key buckets. It is safe for concurrent use.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter allows rps requests per second with the given burst
// (coerced to at least 1) per key.
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if key == nil {
		key = KeyByOrigin()
	}
	return &RateLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		key:       key,
		idle:      defaultIdleWindow,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// limiter returns the bucket for key, creating it on first use. At most once
// per idle window it first drops buckets nobody touched within the window.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idle {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idle {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// Len reports how many buckets are live.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator exempted this request.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Rejected requests get 429 with the standard
// error envelope and a Retry-After (seconds) derived from the bucket.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		r := rl.limiter(rl.key(c)).ReserveN(now, 1)
		if r.OK() && r.DelayFrom(now) == 0 {
			c.Next()
			return
		}

		// A bucket that never refills (zero rate) reports an infinite delay.
		retry := fallbackRetryAfter
		if r.OK() {
			if d := r.DelayFrom(now); d != rate.InfDuration {
				retry = int(math.Ceil(d.Seconds()))
			}
			r.CancelAt(now)
		}
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
