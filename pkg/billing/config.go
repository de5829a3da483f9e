package billing

import (
	"net/http"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Store holds the user billing records that webhooks update (required)
	Store Store

	// TierMapping maps provider price/product IDs to tier names.
	// For example: map[string]string{"price_butler_monthly": "butler"}
	// Unmapped ids always resolve to the guest tier.
	TierMapping map[string]string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Deduplicator optionally remembers processed event ids so redeliveries
	// are acknowledged without another write.
	Deduplicator Deduplicator

	// WebhookCallback is invoked after a webhook wrote a user record.
	// Errors are logged and do not fail the webhook.
	WebhookCallback WebhookCallback

	// Logger is optional; defaults to NoopLogger.
	Logger Logger

	// Metrics is an optional metrics collector for billing operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics
}
