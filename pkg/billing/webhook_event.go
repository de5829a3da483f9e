package billing

import (
	"context"
	"time"
)

// WebhookEvent describes a billing record change caused by a webhook.
// It is passed to the WebhookCallback after the record was written.
type WebhookEvent struct {
	// UserID is the internal user identifier
	UserID string

	// CustomerID is the provider customer the event was addressed to
	CustomerID string

	// PreviousTier is the tier before the update
	PreviousTier Tier

	// NewTier is the tier after the update
	NewTier Tier

	// Status is the provider status stored with the new tier
	Status Status

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventID and EventType identify the provider event
	EventID   string
	EventType string

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time
}

// TierChanged reports whether the update moved the user to another tier.
func (e WebhookEvent) TierChanged() bool {
	return e.PreviousTier != e.NewTier
}

// WebhookCallback is invoked once per user record written by a webhook.
// Returned errors are logged; the webhook is still acknowledged.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// ChainCallbacks runs callbacks in order and returns the first error.
// Nil callbacks are skipped; every callback runs even after a failure.
func ChainCallbacks(callbacks ...WebhookCallback) WebhookCallback {
	return func(ctx context.Context, event WebhookEvent) error {
		var firstErr error
		for _, cb := range callbacks {
			if cb == nil {
				continue
			}
			if err := cb(ctx, event); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}
