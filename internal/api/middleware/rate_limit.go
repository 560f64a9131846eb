package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"taskmanager/internal/pkg/metrics"
)

// Limiter 是按键限流的令牌桶。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimit 按已认证用户限流，必须放在 AuthMiddleware 之后。
//
// Redis 故障时放行请求，只记录日志。
func RateLimit(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := "user:" + strconv.FormatUint(uint64(c.GetUint("userID")), 10)
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("key", key), slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejectedTotal.Inc()
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":      false,
				"message":     "Too many requests. Please slow down.",
				"retry_after": seconds,
			})
			return
		}
		c.Next()
	}
}
