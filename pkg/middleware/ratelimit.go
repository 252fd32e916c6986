package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimitConfig throttles submission endpoints per client IP. Dispatch
// infrastructure (CAD bridges, station gateways) goes on the trusted list
// and is never throttled; an emergency from a known relay must not queue
// behind an abuse rule.
type RateLimitConfig struct {
	Rate         string   // limiter format, e.g. "30-M"
	TrustedCIDRs []string
	Store        limiter.Store // nil = in-process memory store
}

// RateLimit returns a gin middleware enforcing cfg. Denied requests get
// 429 with standard rate-limit headers.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Rate == "" {
		cfg.Rate = "30-M"
	}
	store := cfg.Store
	if store == nil {
		store = memory.NewStore()
	}
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		rate = limiter.Rate{Period: time.Minute, Limit: 30}
	}
	lim := limiter.New(store, rate)

	var trusted []*net.IPNet
	for _, c := range cfg.TrustedCIDRs {
		if _, ipnet, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			trusted = append(trusted, ipnet)
		}
	}

	return func(c *gin.Context) {
		ip := strings.TrimPrefix(c.ClientIP(), "::ffff:")
		if parsed := net.ParseIP(ip); parsed != nil {
			for _, n := range trusted {
				if n.Contains(parsed) {
					c.Next()
					return
				}
			}
		}

		lctx, err := lim.Get(c, "ip:"+ip)
		if err != nil {
			// Limiter store trouble must not block alert intake.
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		if lctx.Reached {
			retry := int(time.Until(time.Unix(lctx.Reset, 0)).Seconds())
			if retry < 0 {
				retry = 0
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
