// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements per-key token bucket rate limiting on top of
// golang.org/x/time/rate. Zapier calls are keyed by a hash of their API key,
// everything else by client IP. Idempotent replays bypass the limiter.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc derives the bucket key of a request.
type KeyFunc func(*gin.Context) string

// KeyByAPIKeyOrIP buckets by API key (query, form or X-API-Key header) when
// one is present, else by client IP. Keys are hashed so raw secrets never
// sit in the visitor map.
func KeyByAPIKeyOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if k := apiKeyOf(c); k != "" {
			sum := sha256.Sum256([]byte(k))
			return "key:" + hex.EncodeToString(sum[:8])
		}
		return "ip:" + c.ClientIP()
	}
}

func apiKeyOf(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader("X-API-Key")); k != "" {
		return k
	}
	return strings.TrimSpace(c.Query("api_key"))
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per key; idle buckets are evicted
// after ttl, checked every cleanupEvery lookups.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    KeyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl          time.Duration
	cleanupEvery uint64
	lookups      uint64
}

// NewRateLimiter builds a limiter allowing rps requests per second with the
// given burst per key. burst <= 0 is coerced to 1; a nil keyFn uses
// KeyByAPIKeyOrIP.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByAPIKeyOrIP()
	}
	return &RateLimiter{
		rps:          rate.Limit(rps),
		burst:        burst,
		keyFn:        keyFn,
		visitors:     make(map[string]*visitor),
		ttl:          10 * time.Minute,
		cleanupEvery: 5000,
	}
}

func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= rl.cleanupEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator flagged a replay.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler answers 429 rate_limited with Retry-After when the bucket of the
// request is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
