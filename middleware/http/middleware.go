// Package http provides net/http middleware that gates handlers on the
// caller's billing tier.
package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/confortos/confort/pkg/billing"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Reader loads the caller's billing record (required)
	Reader billing.RecordReader

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// MinTier is the lowest tier allowed through. Default: guest (everyone)
	MinTier billing.Tier

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnForbidden is called when the user's tier is below MinTier
	// If nil, returns 403 Forbidden
	OnForbidden func(w http.ResponseWriter, r *http.Request, tier, required billing.Tier)

	// OnError is called when the billing record cannot be read
	// If nil, returns 503 Service Unavailable
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that requires config.MinTier
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Reader == nil {
		panic("confort/http: Config.Reader is required")
	}
	if config.GetUserID == nil {
		panic("confort/http: Config.GetUserID is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ok, tier, err := billing.CheckAccess(r.Context(), config.Reader, userID, config.MinTier)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				}
				return
			}
			if !ok {
				if config.OnForbidden != nil {
					config.OnForbidden(w, r, tier, config.MinTier)
				} else {
					w.Header().Set("X-Required-Tier", config.MinTier.String())
					http.Error(w, fmt.Sprintf("Forbidden: %s tier required", config.MinTier), http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), TierKey, tier)))
		})
	}
}

// RequireTier is a shorthand for Middleware with MinTier set
func RequireTier(reader billing.RecordReader, getUserID UserIDExtractor, min billing.Tier) func(http.Handler) http.Handler {
	return Middleware(Config{Reader: reader, GetUserID: getUserID, MinTier: min})
}

// HandlerFunc creates the middleware in HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "confort:userID"

	// TierKey holds the caller's billing.Tier after the middleware admitted it
	TierKey ContextKey = "confort:tier"
)

// TierFromContext returns the tier stored by the middleware, guest if absent
func TierFromContext(ctx context.Context) billing.Tier {
	if tier, ok := ctx.Value(TierKey).(billing.Tier); ok {
		return tier
	}
	return billing.TierGuest
}

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
