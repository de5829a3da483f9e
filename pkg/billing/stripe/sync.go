package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/confortos/confort/pkg/billing"
)

// syncEventType labels callbacks raised by SyncCustomer.
const syncEventType = "customer.sync"

// SyncCustomer re-reads a customer's subscriptions from the Stripe API and
// applies the best tier among them. It repairs records after missed webhooks.
func (p *Provider) SyncCustomer(ctx context.Context, customerID string) (*billing.UpdateResult, error) {
	if p.stripeClient == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	startTime := time.Now()

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")

	var subscriptions []*stripe.Subscription
	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
			p.metrics.RecordCustomerSync(providerName, "error")
			p.metrics.RecordCustomerSyncDuration(providerName, time.Since(startTime))
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		subscriptions = append(subscriptions, sub)
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/list", time.Since(startTime))

	tier, status := resolveSubscriptions(customerID, subscriptions, p.mapping)

	// No event time: the local clock cannot be ordered against Stripe's
	// whole-second event timestamps, and a sync must never make a later
	// webhook look stale.
	result, err := p.updater.Apply(ctx, customerID, tier, status)
	p.metrics.RecordCustomerSyncDuration(providerName, time.Since(startTime))
	if err != nil {
		p.metrics.RecordCustomerSync(providerName, "error")
		return nil, err
	}
	p.metrics.RecordCustomerSync(providerName, string(result.Outcome))

	now := time.Now().UTC()
	p.reconciler.Notify(ctx, &billing.BillingEvent{
		EventID:      fmt.Sprintf("sync_%s_%d", customerID, now.UnixNano()),
		Type:         billing.EventSubscriptionUpdated,
		ProviderType: syncEventType,
		CustomerID:   customerID,
		OccurredAt:   now,
	}, result)
	return result, nil
}

// resolveSubscriptions picks the highest tier among entitling subscriptions.
// Without one the customer is a guest and the status of the most recently
// created subscription is kept, or none when there is no subscription at all.
func resolveSubscriptions(customerID string, subscriptions []*stripe.Subscription, mapping billing.TierMapping) (billing.Tier, billing.Status) {
	best, bestStatus := billing.TierGuest, billing.StatusNone
	var newest int64
	entitled := false

	for _, sub := range subscriptions {
		event := &billing.BillingEvent{
			Type:              billing.EventSubscriptionUpdated,
			CustomerID:        customerID,
			PriceOrProductIDs: subscriptionItemIDs(sub),
			ProviderStatus:    billing.Status(sub.Status),
		}
		tier, status := billing.ResolveTier(event, mapping)

		if status.Entitling() {
			if !entitled || tier > best {
				best, bestStatus = tier, status
			}
			entitled = true
			continue
		}
		if !entitled && (bestStatus == billing.StatusNone || sub.Created > newest) {
			bestStatus = status
			newest = sub.Created
		}
	}
	return best, bestStatus
}
