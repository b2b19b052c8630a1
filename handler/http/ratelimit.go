package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RateLimiterConfig struct {
	RedisClient *redis.Client
	Limit       int
	Window      time.Duration
	KeyPrefix   string
	Extractor   func(c *gin.Context) string
}

// NewRateLimiter counts requests per caller in fixed windows. Requests pass
// when redis is unavailable.
func NewRateLimiter(cfg RateLimiterConfig) gin.HandlerFunc {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.Extractor == nil {
		cfg.Extractor = callerKey
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := cfg.Extractor(c)
		if id == "" {
			id = "anonymous"
		}
		key := cfg.KeyPrefix + id

		count, err := cfg.RedisClient.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			cfg.RedisClient.Expire(ctx, key, cfg.Window)
		}

		reset := 0
		if ttl, err := cfg.RedisClient.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			reset = int(ttl.Seconds())
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if count > int64(cfg.Limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", fmt.Sprintf("%d", reset))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:    codeRateLimited,
				Message: fmt.Sprintf("Rate limit exceeded: %d per %s", cfg.Limit, cfg.Window),
				Details: gin.H{"retry_after_sec": reset},
			})
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.Limit-int(count)))
		c.Next()
	}
}

// callerKey prefers the authenticated user over the client address.
func callerKey(c *gin.Context) string {
	if id := identity(c); id.UserID != "" {
		return "user:" + id.UserID
	}
	return "ip:" + c.ClientIP()
}

func (h *Handler) rateLimit(group string, limit int) gin.HandlerFunc {
	if h.redis == nil || limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return NewRateLimiter(RateLimiterConfig{
		RedisClient: h.redis,
		Limit:       limit,
		Window:      h.cfg.RateLimits.Window,
		KeyPrefix:   "rl:" + group + ":",
	})
}
