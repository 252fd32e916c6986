package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"safechain/pkg/cache"
)

// IdempotencyConfig controls the duplicate-request rejection window.
type IdempotencyConfig struct {
	HeaderName string        // defaults to "Idempotency-Key"
	TTL        time.Duration // rejection window for repeated keys
	Cache      cache.Cache
}

// Idempotency rejects, within the TTL window, requests repeating an
// idempotency key that is already being processed. Requests without the
// header pass through untouched: the alert machine's single-flight guard
// remains the authority on alert-level deduplication, this middleware only
// shields against blind client retries that opted in.
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	store := cfg.Cache
	if store == nil {
		store = cache.NewLocalCache(cache.LocalConfig{CleanupInterval: time.Minute})
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			c.Next()
			return
		}
		claimed, err := store.SetNX(c.Request.Context(), "idem:"+key, 1, cfg.TTL)
		if err != nil {
			// Cache outage must not block alert intake.
			c.Next()
			return
		}
		if !claimed {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		c.Next()
	}
}
