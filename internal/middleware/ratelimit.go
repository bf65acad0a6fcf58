package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/utils"
)

// RateLimitMiddleware throttles requests per client IP.
type RateLimitMiddleware struct {
	limiter *utils.RateLimiter
	logger  *logrus.Logger
}

// NewRateLimitMiddleware creates a rate limit middleware allowing rps
// requests per second with the given burst per client.
func NewRateLimitMiddleware(rps, burst int, logger *logrus.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RateLimitMiddleware{
		limiter: utils.NewRateLimiter(rps, burst),
		logger:  logger,
	}
}

// Limit returns a middleware that rejects requests exceeding the limit.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := utils.GetClientIP(c)

		if !m.limiter.GetLimiter(key).Allow() {
			m.logger.WithFields(logrus.Fields{
				"client_ip":  key,
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
				"request_id": c.GetString("request_id"),
			}).Warn("Rate limit exceeded")

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// StartCleanup evicts idle per-client limiters until ctx is cancelled.
func (m *RateLimitMiddleware) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.limiter.CleanupLimiters(maxAge)
			}
		}
	}()
}
