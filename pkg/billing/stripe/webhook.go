package stripe

import (
	"errors"
	"net/http"

	"github.com/confortos/confort/pkg/billing"
	"github.com/confortos/confort/pkg/billing/internal"
)

type webhookResponse struct {
	Received bool            `json:"received"`
	Outcome  billing.Outcome `json:"outcome,omitempty"`
}

// handleWebhook verifies a Stripe webhook and applies it.
//
// Anything that should not be redelivered is answered with 200, including
// events for customers no user is bound to. Signature and payload problems
// are 400 and store outages are 503 so Stripe retries later.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !p.configured {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		switch {
		case errors.Is(err, internal.ErrPayloadTooLarge):
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		case errors.Is(err, internal.ErrEmptyBody):
			http.Error(w, "empty body", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "empty_body")
		default:
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	result, err := p.reconciler.Handle(r.Context(), body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	case errors.Is(err, billing.ErrMalformedPayload):
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	case err != nil:
		p.logger.Error("stripe webhook failed", billing.F("error", err.Error()))
		http.Error(w, "failed to process webhook", http.StatusServiceUnavailable)
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: result.Outcome})
}
