package billing

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventType classifies an inbound provider event.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	// EventOther is accepted but never acted upon.
	EventOther EventType = "other"
)

// Status is the provider's subscription status, passed through unchanged.
type Status string

const (
	StatusNone              Status = "none"
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// Entitling reports whether the status grants the mapped tier.
func (s Status) Entitling() bool {
	return s == StatusActive || s == StatusTrialing
}

// BillingEvent is a verified provider event. It lives for one request only.
type BillingEvent struct {
	// EventID is the provider event id, used for redelivery deduplication
	EventID string `validate:"required"`

	Type EventType `validate:"required"`

	// ProviderType is the raw provider event type, e.g. "customer.subscription.updated"
	ProviderType string `validate:"required"`

	CustomerID string `validate:"required_unless=Type other"`

	// PriceOrProductIDs holds every price id and product id on the subscription items.
	PriceOrProductIDs []string `validate:"required_if=Type subscription_created,required_if=Type subscription_updated"`

	ProviderStatus Status `validate:"required_if=Type subscription_created,required_if=Type subscription_updated"`

	// OccurredAt is when the provider created the event. Zero when unknown.
	OccurredAt time.Time

	// RawPayload is the verified request body.
	RawPayload []byte
}

// Actionable reports whether the event should reach the updater.
func (e *BillingEvent) Actionable() bool {
	switch e.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	default:
		return false
	}
}

// Validate checks the fields required for the event type.
// Failures wrap ErrMalformedPayload.
func (e *BillingEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}
