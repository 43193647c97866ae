package httpkit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's bucket survives without traffic.
const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
	log       *logger.Logger
}

// NewIPRateLimiter creates a new IP-based rate limiter.
func NewIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    burst,
		now:      time.Now,
		log:      log,
	}
}

// NewPerMinuteLimiter builds the API limiter from config. A non-positive
// limit disables limiting.
func NewPerMinuteLimiter(cfg config.HTTPConfig, log *logger.Logger) *IPRateLimiter {
	perMinute := cfg.GetRateLimitPerMinute()
	if perMinute <= 0 {
		return NewIPRateLimiter(rate.Inf, 0, log)
	}
	return NewIPRateLimiter(rate.Limit(float64(perMinute)/60.0), perMinute, log)
}

func (i *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if now.Sub(i.lastSweep) > limiterIdleTTL {
		for key, v := range i.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(i.visitors, key)
			}
		}
		i.lastSweep = now
	}

	v, ok := i.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// RateLimit returns a middleware that rate limits by IP.
func (i *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if i.rate == rate.Inf {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if !i.limiterFor(ip).Allow() {
			if i.log != nil {
				i.log.RateLimitExceeded(ip, c.Request.URL.Path)
			}
			retryAfter := 1
			if i.rate > 0 {
				retryAfter = max(1, int(1/float64(i.rate)))
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "rate limit exceeded",
				Code:      "rate_limited",
				Retryable: true,
			})
			return
		}

		c.Next()
	}
}
