package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/codeexec/public-terminals/internal/infrastructure/config"
)

// staleAfter is how long an idle client keeps its limiter before eviction.
const staleAfter = 3 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// evictStale drops limiters for clients not seen within staleAfter. Caller
// holds the map lock.
func evictStale(clients map[string]*client, now time.Time) {
	for ip, cl := range clients {
		if now.Sub(cl.lastSeen) > staleAfter {
			delete(clients, ip)
		}
	}
}

// RateLimit enforces a per-IP request rate. Idle entries are swept on the
// same cadence as staleAfter so the limiter map does not grow with every
// guest that ever connected.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = time.Now()
	)

	return func(c *gin.Context) {
		now := time.Now()
		ip := c.ClientIP()

		mu.Lock()
		if now.Sub(lastSweep) > staleAfter {
			evictStale(clients, now)
			lastSweep = now
		}
		cl, ok := clients[ip]
		if !ok {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		mu.Unlock()

		if !cl.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
