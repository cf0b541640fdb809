package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds request rates per client address.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// idleTTL is how long an address may stay quiet before its limiter is
// evicted. Chat hosts submit in bursts around user activity, so idle
// entries dominate the map without eviction.
const idleTTL = 3 * time.Minute

// RateLimit returns per-IP limiting middleware. Limiters for idle
// addresses are evicted, so the map stays bounded by recent traffic.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	burst := cfg.Burst
	if burst <= 0 {
		// A zero burst would admit nothing at any finite rate.
		burst = cfg.RequestsPerSecond
	}

	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
		sweptAt  time.Time
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		if now.Sub(sweptAt) > idleTTL {
			for addr, v := range visitors {
				if now.Sub(v.lastSeen) > idleTTL {
					delete(visitors, addr)
				}
			}
			sweptAt = now
		}
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)}
			visitors[ip] = v
		}
		v.lastSeen = now
		limiter := v.limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
