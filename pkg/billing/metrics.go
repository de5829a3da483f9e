package billing

import "time"

// Metrics defines the interface for tracking billing sync operations.
// All methods are optional - components fall back to NoopMetrics when nil.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// status: "success", "ignored", "duplicate" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "invalid_signature", "malformed_payload", "store_unavailable"
	RecordWebhookError(provider, errorType string)

	// RecordUpdateOutcome records the outcome of applying an update to user records.
	RecordUpdateOutcome(outcome string)

	// RecordTierChange records when a user's tier changes.
	RecordTierChange(provider, fromTier, toTier string)

	// RecordCustomerSync records a reconciliation against the provider API.
	// status: "success" or "error"
	RecordCustomerSync(provider, status string)

	// RecordCustomerSyncDuration records how long a reconciliation took.
	RecordCustomerSyncDuration(provider string, duration time.Duration)

	// RecordAPICall records an API call to the billing provider.
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)

	// RecordStoreBreakerState records circuit breaker transitions of the store.
	RecordStoreBreakerState(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordUpdateOutcome(_ string)                                 {}
func (n *NoopMetrics) RecordTierChange(_, _, _ string)                              {}
func (n *NoopMetrics) RecordCustomerSync(_, _ string)                               {}
func (n *NoopMetrics) RecordCustomerSyncDuration(_ string, _ time.Duration)         {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
func (n *NoopMetrics) RecordStoreBreakerState(_ string)                             {}
