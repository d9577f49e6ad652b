package middlewares

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityConfig holds the headers that differ between deployments. A zero
// HSTSMaxAge leaves Strict-Transport-Security off, for plain HTTP setups.
type SecurityConfig struct {
	ContentSecurityPolicy string
	HSTSMaxAge            time.Duration
}

func SecurityHeaders(cfg SecurityConfig) gin.HandlerFunc {
	csp := cfg.ContentSecurityPolicy
	if csp == "" {
		csp = "default-src 'self'"
	}
	var hsts string
	if cfg.HSTSMaxAge > 0 {
		hsts = fmt.Sprintf("max-age=%d; includeSubDomains", int64(cfg.HSTSMaxAge/time.Second))
	}

	return func(c *gin.Context) {
		// Security headers
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Content-Security-Policy", csp)
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if hsts != "" {
			c.Header("Strict-Transport-Security", hsts)
		}

		c.Next()
	}
}
