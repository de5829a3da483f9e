// Package echo provides Echo middleware that gates routes on the caller's
// billing tier.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/confortos/confort/pkg/billing"
)

// TierKey is the Echo context key holding the admitted caller's billing.Tier
const TierKey = "billing_tier"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

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
	OnUnauthorized func(c echo.Context) error

	// OnForbidden is called when the user's tier is below MinTier
	// If nil, returns 403 JSON with the current and required tier
	OnForbidden func(c echo.Context, tier, required billing.Tier) error

	// OnError is called when the billing record cannot be read
	// If nil, returns 503 Service Unavailable
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that requires cfg.MinTier
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Reader == nil {
		panic("confort/echo: Config.Reader is required")
	}
	if cfg.GetUserID == nil {
		panic("confort/echo: Config.GetUserID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			ok, tier, err := billing.CheckAccess(c.Request().Context(), cfg.Reader, userID, cfg.MinTier)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Service Unavailable"})
			}
			if !ok {
				if cfg.OnForbidden != nil {
					return cfg.OnForbidden(c, tier, cfg.MinTier)
				}
				return c.JSON(http.StatusForbidden, map[string]string{
					"error":    "Upgrade required",
					"tier":     tier.String(),
					"required": cfg.MinTier.String(),
				})
			}

			c.Set(TierKey, tier)
			return next(c)
		}
	}
}

// RequireTier is a shorthand for Middleware with MinTier set
func RequireTier(reader billing.RecordReader, getUserID UserIDExtractor, min billing.Tier) echo.MiddlewareFunc {
	return Middleware(Config{Reader: reader, GetUserID: getUserID, MinTier: min})
}

// TierFromContext returns the tier set by the middleware, guest if absent
func TierFromContext(c echo.Context) billing.Tier {
	if tier, ok := c.Get(TierKey).(billing.Tier); ok {
		return tier
	}
	return billing.TierGuest
}

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
