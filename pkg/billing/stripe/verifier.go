package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/confortos/confort/pkg/billing"
)

// DefaultTolerance is the maximum accepted age of a webhook signature timestamp.
const DefaultTolerance = webhook.DefaultTolerance

// Verifier authenticates Stripe webhook payloads and decodes them into
// billing events. It implements billing.Verifier.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a Verifier for an endpoint signing secret (whsec_...).
// A non-positive tolerance uses DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify implements billing.Verifier.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (*billing.BillingEvent, error) {
	return verifyEvent(payload, signatureHeader, v.secret, v.tolerance)
}

// VerifyEvent checks the Stripe-Signature header of a raw webhook body against
// the endpoint secret and decodes the event.
//
// Signature failures (missing header, bad format, mismatch, expired
// timestamp) wrap billing.ErrInvalidSignature. A correctly signed body that
// cannot be decoded or lacks required fields wraps billing.ErrMalformedPayload.
func VerifyEvent(payload []byte, signatureHeader, secret string) (*billing.BillingEvent, error) {
	return verifyEvent(payload, signatureHeader, secret, DefaultTolerance)
}

func verifyEvent(payload []byte, signatureHeader, secret string, tolerance time.Duration) (*billing.BillingEvent, error) {
	if secret == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, secret, tolerance); err != nil {
		return nil, fmt.Errorf("%w: %w", billing.ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: decode event: %w", billing.ErrMalformedPayload, err)
	}

	out := &billing.BillingEvent{
		EventID:      event.ID,
		Type:         eventTypeFor(event.Type),
		ProviderType: string(event.Type),
		RawPayload:   payload,
	}
	if event.Created > 0 {
		out.OccurredAt = time.Unix(event.Created, 0).UTC()
	}

	if out.Type != billing.EventOther {
		if event.Data == nil || len(event.Data.Raw) == 0 {
			return nil, fmt.Errorf("%w: event %s has no data object", billing.ErrMalformedPayload, event.ID)
		}
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %w", billing.ErrMalformedPayload, err)
		}
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		out.ProviderStatus = billing.Status(sub.Status)
		out.PriceOrProductIDs = subscriptionItemIDs(&sub)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func eventTypeFor(t stripe.EventType) billing.EventType {
	switch t {
	case stripe.EventTypeCustomerSubscriptionCreated:
		return billing.EventSubscriptionCreated
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return billing.EventSubscriptionUpdated
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return billing.EventSubscriptionDeleted
	default:
		return billing.EventOther
	}
}

// subscriptionItemIDs returns the price id and product id of every item.
// It returns nil when the subscription has no identifiable items.
func subscriptionItemIDs(sub *stripe.Subscription) []string {
	if sub.Items == nil {
		return nil
	}
	var ids []string
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if item.Price.ID != "" {
			ids = append(ids, item.Price.ID)
		}
		if item.Price.Product != nil && item.Price.Product.ID != "" {
			ids = append(ids, item.Price.Product.ID)
		}
	}
	return ids
}
