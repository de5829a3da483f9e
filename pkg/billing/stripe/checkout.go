package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/confortos/confort/pkg/billing"
)

// CheckoutURL creates a Stripe Checkout Session and returns the URL.
// The tier is resolved to a Stripe Price ID using the configured TierMapping.
//
// The user's Stripe customer is created on first checkout and linked to the
// user record, so the subscription webhooks that follow find their owner.
func (p *Provider) CheckoutURL(ctx context.Context, userID string, tier billing.Tier, successURL, cancelURL string) (string, error) {
	if p.stripeClient == nil {
		return "", billing.ErrProviderNotConfigured
	}
	startTime := time.Now()

	// 1. Resolve tier to Stripe Price ID
	priceID := p.mapping.PriceFor(tier)
	if priceID == "" {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "tier_not_found")
		return "", fmt.Errorf("%w: %s", billing.ErrTierNotConfigured, tier)
	}

	// 2. Resolve or create the customer. Real errors fail the checkout so a
	// store outage never produces a second Stripe customer.
	customerID, err := p.ensureCustomer(ctx, userID)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "customer_resolution_failed")
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}

	// 3. Create Checkout Session
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
	}
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataUserID, userID)

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")

	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal Session and returns the URL.
// Users without a linked customer get billing.ErrCustomerNotLinked.
func (p *Provider) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	if p.stripeClient == nil {
		return "", billing.ErrProviderNotConfigured
	}
	startTime := time.Now()

	customerID, err := p.linkedCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "customer_not_found")
		return "", fmt.Errorf("%w: %s", billing.ErrCustomerNotLinked, userID)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "error")
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "success")

	return session.URL, nil
}

// linkedCustomer returns the customer id stored on the user record, or ""
// when the user has none yet.
func (p *Provider) linkedCustomer(ctx context.Context, userID string) (string, error) {
	rec, err := p.store.GetRecord(ctx, userID)
	if errors.Is(err, billing.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", billing.ErrStoreUnavailable, err)
	}
	return rec.CustomerID, nil
}

// ensureCustomer returns the user's Stripe customer, creating and linking one
// when needed. Stripe is searched by metadata first so a customer created by
// an earlier attempt whose link write failed is reused.
func (p *Provider) ensureCustomer(ctx context.Context, userID string) (string, error) {
	customerID, err := p.linkedCustomer(ctx, userID)
	if err != nil || customerID != "" {
		return customerID, err
	}

	customerID, err = p.searchCustomerByMetadata(ctx, userID)
	if err != nil && !errors.Is(err, billing.ErrCustomerNotLinked) {
		return "", err
	}

	if customerID == "" {
		params := &stripe.CustomerCreateParams{}
		params.AddMetadata(metadataUserID, userID)
		startTime := time.Now()
		cust, err := p.stripeClient.V1Customers.Create(ctx, params)
		p.metrics.RecordAPICallDuration(providerName, "/customers", time.Since(startTime))
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/customers", "error")
			return "", fmt.Errorf("failed to create customer: %w", err)
		}
		p.metrics.RecordAPICall(providerName, "/customers", "success")
		customerID = cust.ID
	}

	if err := p.store.LinkCustomer(ctx, userID, customerID); err != nil {
		return "", fmt.Errorf("link customer %s: %w", customerID, err)
	}
	p.logger.Info("linked stripe customer",
		billing.F("user_id", userID), billing.F("customer_id", customerID))
	return customerID, nil
}

// searchCustomerByMetadata searches for a customer by metadata using Stripe Search API
func (p *Provider) searchCustomerByMetadata(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataUserID, userID)

	for cust, err := range p.stripeClient.V1Customers.Search(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/customers/search", "error")
			return "", fmt.Errorf("stripe search error: %w", err)
		}
		// Verify exact match (Search API can return partial matches)
		if cust.Metadata != nil && cust.Metadata[metadataUserID] == userID {
			p.metrics.RecordAPICall(providerName, "/customers/search", "success")
			return cust.ID, nil
		}
	}

	p.metrics.RecordAPICall(providerName, "/customers/search", "not_found")
	return "", billing.ErrCustomerNotLinked
}
