package billing

import (
	"context"
	"net/http"
)

// Provider is the interface a payment provider integration implements.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	WebhookHandler() http.Handler

	// SyncCustomer re-reads the customer's subscriptions from the provider and
	// applies the resulting tier. Used for manual or nightly reconciliation.
	SyncCustomer(ctx context.Context, customerID string) (*UpdateResult, error)
}
