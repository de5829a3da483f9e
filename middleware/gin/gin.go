// Package gin provides Gin middleware that gates routes on the caller's
// billing tier.
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/confortos/confort/pkg/billing"
)

// TierKey is the Gin context key holding the admitted caller's billing.Tier
const TierKey = "billing_tier"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Reader loads the caller's billing record (required)
	Reader billing.RecordReader

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// MinTier is the lowest tier allowed through. Default: guest
	MinTier billing.Tier

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnForbidden is called when the user's tier is below MinTier
	// If nil, returns 403 JSON with the current and required tier
	OnForbidden func(c *gongin.Context, tier, required billing.Tier)

	// OnError is called when the billing record cannot be read
	// If nil, returns 503 Service Unavailable
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that requires cfg.MinTier
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Reader == nil {
		panic("confort/gin: Config.Reader is required")
	}
	if cfg.GetUserID == nil {
		panic("confort/gin: Config.GetUserID is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		ok, tier, err := billing.CheckAccess(c.Request.Context(), cfg.Reader, userID, cfg.MinTier)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c, err)
			}
			c.Abort()
			return
		}
		if !ok {
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c, tier, cfg.MinTier)
			} else {
				defaultForbidden(c, tier, cfg.MinTier)
			}
			c.Abort()
			return
		}

		c.Set(TierKey, tier)
		c.Next()
	}
}

// RequireTier is a shorthand for Middleware with MinTier set
func RequireTier(reader billing.RecordReader, getUserID UserIDExtractor, min billing.Tier) gongin.HandlerFunc {
	return Middleware(Config{Reader: reader, GetUserID: getUserID, MinTier: min})
}

// TierFromContext returns the tier set by the middleware, guest if absent
func TierFromContext(c *gongin.Context) billing.Tier {
	if val, exists := c.Get(TierKey); exists {
		if tier, ok := val.(billing.Tier); ok {
			return tier
		}
	}
	return billing.TierGuest
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultForbidden(c *gongin.Context, tier, required billing.Tier) {
	c.JSON(http.StatusForbidden, gongin.H{
		"error":    "Upgrade required",
		"tier":     tier.String(),
		"required": required.String(),
	})
}

func defaultError(c *gongin.Context, _ error) {
	c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "Service Unavailable"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// set by an auth middleware via c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}
