package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/NishanthMohanan/serveq1/internal/pkg/metrics"
	"github.com/NishanthMohanan/serveq1/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit 对路由做全局限流，等不到令牌时返回 429。
//
// Redis 故障时放行：限流是保护措施，不应把登录打挂。
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := limiter.Acquire(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrAcquireTimeout) {
				metrics.LoginThrottledTotal.Inc()
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
				c.Abort()
				return
			}
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			}
		}
		c.Next()
	}
}
