package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/confortos/confort/pkg/billing"
)

const (
	testStripeAPIKey        = "sk_test_1234567890"
	testStripeWebhookSecret = "whsec_test_secret"
	testUserID              = "test-user-123"
	testCustomerID          = "cus_test_123"
	testPriceAssistant      = "price_assistant_monthly"
	testPriceButler         = "price_butler_monthly"
	testPriceRuler          = "price_ruler_yearly"
)

func testTierMapping() map[string]string {
	return map[string]string{
		testPriceAssistant: "assistant",
		testPriceButler:    "butler",
		testPriceRuler:     "ruler",
	}
}

// subscriptionEventJSON builds a Stripe event envelope around a subscription
// object. An empty customer or status leaves the field out.
func subscriptionEventJSON(t *testing.T, eventID, eventType, customerID, status string, created time.Time, priceIDs ...string) []byte {
	t.Helper()

	items := make([]map[string]interface{}, 0, len(priceIDs))
	for i, priceID := range priceIDs {
		items = append(items, map[string]interface{}{
			"id":     "si_" + string(rune('a'+i)),
			"object": "subscription_item",
			"price": map[string]interface{}{
				"id":      priceID,
				"object":  "price",
				"product": "prod_" + priceID,
			},
		})
	}

	sub := map[string]interface{}{
		"id":      "sub_test",
		"object":  "subscription",
		"created": created.Unix(),
		"items": map[string]interface{}{
			"object": "list",
			"data":   items,
		},
	}
	if customerID != "" {
		sub["customer"] = customerID
	}
	if status != "" {
		sub["status"] = status
	}

	payload, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": "2025-09-30.clover",
		"livemode":    false,
		"data": map[string]interface{}{
			"object": sub,
		},
	})
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return payload
}

func sign(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

// failingStore fails every call, like a document store that is down.
type failingStore struct{}

var errBackendDown = errors.New("backend down")

func (failingStore) GetRecord(context.Context, string) (*billing.UserBillingRecord, error) {
	return nil, errBackendDown
}

func (failingStore) FindByCustomerID(context.Context, string) ([]billing.UserBillingRecord, error) {
	return nil, errBackendDown
}

func (failingStore) ApplyBilling(context.Context, string, billing.BillingUpdate) (bool, error) {
	return false, errBackendDown
}

func (failingStore) LinkCustomer(context.Context, string, string) error {
	return errBackendDown
}
