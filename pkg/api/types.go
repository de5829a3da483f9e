package api

import (
	"time"

	"github.com/confortos/confort/pkg/billing"
)

// BillingResponse is the caller's billing standing
type BillingResponse struct {
	UserID         string         `json:"user_id"`
	Tier           billing.Tier   `json:"tier"`
	Status         billing.Status `json:"status"`
	CustomerLinked bool           `json:"customer_linked"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
}

// CheckoutRequest starts a subscription checkout for a paid tier
type CheckoutRequest struct {
	Tier       string `json:"tier" validate:"required,oneof=assistant butler ruler"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

// PortalRequest opens the provider's self-service billing portal
type PortalRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// RedirectResponse carries the provider-hosted URL the client navigates to
type RedirectResponse struct {
	URL string `json:"url"`
}
