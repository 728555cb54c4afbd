package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/ratelimit"
	"github.com/tradejournal/billing/pkg/response"
)

// RateLimitMiddleware allows perMinute requests per user (or client IP when
// unauthenticated) within scope. Limiter errors fail open.
func RateLimitMiddleware(l *ratelimit.Limiter, scope string, perMinute int, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := UserID(c)
		if subject == "" {
			subject = c.ClientIP()
		}
		d, err := l.Allow(c.Request.Context(), scope, subject, perMinute, time.Minute)
		if err != nil {
			logctx.FromGin(c, base).Warnw("rate limiter unavailable", "scope", scope, "err", err)
			c.Next()
			return
		}
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(d.RetryAfter/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.ErrorT[any](response.APIResponseCodeTooManyRequests, nil))
			return
		}
		c.Next()
	}
}
