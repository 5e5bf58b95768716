package middlewares

import (
	"net/http"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

// limiterIdle is how long a client's bucket survives without requests.
const limiterIdle = 10 * time.Minute

// RateLimiter hands every client IP its own token bucket.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters *ttlworker.Cache[string, *rate.Limiter]
}

// NewRateLimiter returns nil when cfg disables limiting.
func NewRateLimiter(cfg types.RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = max(int(cfg.RequestsPerSecond), 1)
	}
	return &RateLimiter{
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		limiters: ttlworker.NewCache[string, *rate.Limiter](limiterIdle),
	}
}

func (l *RateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim := l.limiters.Get(ip)
	if lim == nil {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// Set refreshes the idle deadline
	l.limiters.Set(ip, lim)
	return lim
}

// Allow reports whether ip may make another request now.
func (l *RateLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	return l.limiterFor(ip).Allow()
}

// Middleware rejects requests over the client's budget with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			tool.DefaultLogger.Debugf("[RateLimit] %s over budget on %s", c.ClientIP(), c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, tool.FastReturnError("Too many requests"))
			return
		}
		c.Next()
	}
}
