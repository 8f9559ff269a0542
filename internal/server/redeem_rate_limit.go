package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront-ledger/internal/cache"
	"github.com/smallbiznis/storefront-ledger/internal/observability/logger"
	"go.uber.org/zap"
)

// RedeemRateLimit throttles redemptions per customer. Without redis the
// limiter is nil and every request passes.
func (s *Server) RedeemRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.redeemLimiter == nil || s.redeemLimiter.TokenBucket == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		customerID := strings.TrimSpace(c.Param("customer_id"))
		res, err := s.redeemLimiter.Allow(ctx, cache.RedeemBucketKey(customerID))
		if err != nil {
			// Fail open: the ledger still refuses an overdraft.
			logger.FromContext(ctx).Warn("redeem rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			s.obsMetrics.RecordRedemption(ctx, "rate_limited")
			logger.FromContext(ctx).Warn("redeem rate limit exceeded", zap.String("customer_id", customerID))

			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Next()
	}
}
