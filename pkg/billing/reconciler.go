package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Verifier authenticates and decodes a raw provider webhook.
// Implementations return errors wrapping ErrInvalidSignature or ErrMalformedPayload.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) (*BillingEvent, error)
}

// Deduplicator remembers processed provider event ids.
type Deduplicator interface {
	// Seen reports whether eventID was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records eventID as processed.
	MarkProcessed(ctx context.Context, eventID string) error
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	// Provider is the provider name used in logs, metrics and callbacks
	Provider string

	// Verifier authenticates inbound payloads (required)
	Verifier Verifier

	// TierMapping maps price/product ids to tiers
	TierMapping TierMapping

	// Updater writes the resolved tier (required)
	Updater *Updater

	// Deduplicator is optional. Redelivered event ids are acknowledged
	// without touching the store.
	Deduplicator Deduplicator

	// WebhookCallback is optional and runs once per written record.
	WebhookCallback WebhookCallback

	Logger  Logger
	Metrics Metrics
}

// Result describes how a webhook was handled.
type Result struct {
	Event  *BillingEvent
	Update *UpdateResult
	// Outcome duplicates Update.Outcome, and is set for events that never
	// reach the updater.
	Outcome Outcome
}

// Reconciler runs the verify -> resolve -> apply pipeline for one webhook.
// It keeps no per-request state and is safe for concurrent use.
type Reconciler struct {
	provider string
	verifier Verifier
	mapping  TierMapping
	updater  *Updater
	dedupe   Deduplicator
	callback WebhookCallback
	logger   Logger
	metrics  Metrics
}

// NewReconciler creates a Reconciler.
func NewReconciler(config ReconcilerConfig) (*Reconciler, error) {
	if config.Verifier == nil || config.Updater == nil {
		return nil, ErrProviderNotConfigured
	}
	if config.Provider == "" {
		config.Provider = "unknown"
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Reconciler{
		provider: config.Provider,
		verifier: config.Verifier,
		mapping:  config.TierMapping,
		updater:  config.Updater,
		dedupe:   config.Deduplicator,
		callback: config.WebhookCallback,
		logger:   config.Logger,
		metrics:  config.Metrics,
	}, nil
}

// Handle verifies and applies one webhook payload.
//
// Returned errors wrap ErrInvalidSignature, ErrMalformedPayload or
// ErrStoreUnavailable. Not-found and duplicate bindings are not errors.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) (*Result, error) {
	startTime := time.Now()

	event, err := r.verifier.Verify(payload, signatureHeader)
	if err != nil {
		errorType := "malformed_payload"
		if errors.Is(err, ErrInvalidSignature) {
			errorType = "invalid_signature"
		}
		r.logger.Warn("webhook rejected",
			F("provider", r.provider), F("reason", errorType), F("error", err.Error()))
		r.metrics.RecordWebhookError(r.provider, errorType)
		return nil, err
	}

	result, err := r.process(ctx, event)
	eventType := event.ProviderType
	r.metrics.RecordWebhookProcessingDuration(r.provider, eventType, time.Since(startTime))
	if err != nil {
		r.metrics.RecordWebhookEvent(r.provider, eventType, "error")
		r.metrics.RecordWebhookError(r.provider, "store_unavailable")
		return nil, err
	}

	status := "success"
	switch result.Outcome {
	case OutcomeIgnored:
		status = "ignored"
	case OutcomeDuplicateEvent:
		status = "duplicate"
	}
	r.metrics.RecordWebhookEvent(r.provider, eventType, status)
	return result, nil
}

func (r *Reconciler) process(ctx context.Context, event *BillingEvent) (*Result, error) {
	result := &Result{Event: event}

	if !event.Actionable() {
		r.logger.Debug("ignoring webhook event",
			F("provider", r.provider), F("event_id", event.EventID), F("event_type", event.ProviderType))
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	if r.seen(ctx, event.EventID) {
		r.logger.Info("webhook event already processed",
			F("provider", r.provider), F("event_id", event.EventID))
		result.Outcome = OutcomeDuplicateEvent
		return result, nil
	}

	tier, status := ResolveTier(event, r.mapping)
	update, err := r.updater.ApplyAt(ctx, event.CustomerID, BillingUpdate{
		Tier:      tier,
		Status:    status,
		EventTime: event.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("apply %s for customer %s: %w", event.EventID, event.CustomerID, err)
	}
	result.Update = update
	result.Outcome = update.Outcome

	r.Notify(ctx, event, update)
	r.markProcessed(ctx, event.EventID)
	return result, nil
}

func (r *Reconciler) seen(ctx context.Context, eventID string) bool {
	if r.dedupe == nil || eventID == "" {
		return false
	}
	seen, err := r.dedupe.Seen(ctx, eventID)
	if err != nil {
		r.logger.Warn("deduplicator lookup failed",
			F("event_id", eventID), F("error", err.Error()))
		return false
	}
	return seen
}

func (r *Reconciler) markProcessed(ctx context.Context, eventID string) {
	if r.dedupe == nil || eventID == "" {
		return
	}
	if err := r.dedupe.MarkProcessed(ctx, eventID); err != nil {
		r.logger.Warn("deduplicator mark failed",
			F("event_id", eventID), F("error", err.Error()))
	}
}

// Notify records tier changes and runs the webhook callback once for every
// record update wrote. Callback errors are logged only.
func (r *Reconciler) Notify(ctx context.Context, event *BillingEvent, update *UpdateResult) {
	for _, change := range update.Changes {
		if !change.Applied {
			continue
		}
		if change.PreviousTier != change.NewTier {
			r.metrics.RecordTierChange(r.provider, change.PreviousTier.String(), change.NewTier.String())
		}
		if r.callback == nil {
			continue
		}
		err := r.callback(ctx, WebhookEvent{
			UserID:         change.UserID,
			CustomerID:     update.CustomerID,
			PreviousTier:   change.PreviousTier,
			NewTier:        change.NewTier,
			Status:         update.Status,
			Provider:       r.provider,
			EventID:        event.EventID,
			EventType:      event.ProviderType,
			EventTimestamp: event.OccurredAt,
		})
		if err != nil {
			r.logger.Error("webhook callback failed",
				F("user_id", change.UserID), F("event_id", event.EventID), F("error", err.Error()))
		}
	}
}
