// Package fiber provides Fiber middleware that gates routes on the caller's
// billing tier.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/confortos/confort/pkg/billing"
)

// TierKey is the Fiber locals key holding the admitted caller's billing.Tier
const TierKey = "billing_tier"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnUnauthorized func(c *fiber.Ctx) error

	// OnForbidden is called when the user's tier is below MinTier
	// If nil, returns 403 JSON with the current and required tier
	OnForbidden func(c *fiber.Ctx, tier, required billing.Tier) error

	// OnError is called when the billing record cannot be read
	// If nil, returns 503 Service Unavailable
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that requires cfg.MinTier
func Middleware(cfg Config) fiber.Handler {
	if cfg.Reader == nil {
		panic("confort/fiber: Config.Reader is required")
	}
	if cfg.GetUserID == nil {
		panic("confort/fiber: Config.GetUserID is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		ok, tier, err := billing.CheckAccess(c.UserContext(), cfg.Reader, userID, cfg.MinTier)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service Unavailable"})
		}
		if !ok {
			if cfg.OnForbidden != nil {
				return cfg.OnForbidden(c, tier, cfg.MinTier)
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":    "Upgrade required",
				"tier":     tier.String(),
				"required": cfg.MinTier.String(),
			})
		}

		c.Locals(TierKey, tier)
		return c.Next()
	}
}

// RequireTier is a shorthand for Middleware with MinTier set
func RequireTier(reader billing.RecordReader, getUserID UserIDExtractor, min billing.Tier) fiber.Handler {
	return Middleware(Config{Reader: reader, GetUserID: getUserID, MinTier: min})
}

// TierFromContext returns the tier set by the middleware, guest if absent
func TierFromContext(c *fiber.Ctx) billing.Tier {
	if tier, ok := c.Locals(TierKey).(billing.Tier); ok {
		return tier
	}
	return billing.TierGuest
}

// FromContext returns a UserIDExtractor that gets user ID from Fiber locals
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
