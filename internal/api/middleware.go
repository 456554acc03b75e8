// Package api implements the HTTP surface of Yume: the bancho endpoint the
// client polls, the web endpoints for leaderboards and score submission,
// and a small public JSON API.
package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second with a
// burst of twice that. A non-positive rps disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	return newRateLimiter(rate.Limit(rps), rps*2)
}

// NewLoginLimiter creates a limiter allowing perMinute login attempts per
// minute per client.
func NewLoginLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return newRateLimiter(0, 0)
	}
	return newRateLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func newRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
	}
}

// Allow reports whether ip may make another request now.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	entry, ok := rl.clients[ip]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Prune forgets clients not seen for longer than idle.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	pruned := 0
	for ip, entry := range rl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			pruned++
		}
	}
	return pruned
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Server", "Yume")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("X-Frame-Options", "DENY")
			c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests. Bancho polls are frequent, so
// they are logged at trace level.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		event := log.Debug()
		if c.Request.URL.Path == "/" {
			event = log.Trace()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}
