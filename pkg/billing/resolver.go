package billing

// ResolveTier maps an event to the tier and status that should be stored.
//
// Cancellation always reverts to TierGuest. Created and updated events grant
// the highest mapped tier among the subscription's price/product ids, but
// only while the status is active or trialing. Everything else fails closed
// to TierGuest. The status is returned unchanged.
func ResolveTier(event *BillingEvent, mapping TierMapping) (Tier, Status) {
	if event == nil {
		return TierGuest, StatusNone
	}

	switch event.Type {
	case EventSubscriptionDeleted:
		return TierGuest, StatusCanceled
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if !event.ProviderStatus.Entitling() {
			return TierGuest, event.ProviderStatus
		}
		tier := TierGuest
		for _, id := range event.PriceOrProductIDs {
			tier = MaxTier(tier, mapping.Lookup(id))
		}
		return tier, event.ProviderStatus
	default:
		return TierGuest, event.ProviderStatus
	}
}
