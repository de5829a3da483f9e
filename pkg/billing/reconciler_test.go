package billing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confortos/confort/pkg/billing"
	"github.com/confortos/confort/storage/memory"
)

// stubVerifier accepts the payload "valid" and returns its event.
type stubVerifier struct {
	event *billing.BillingEvent
	err   error
}

func (v *stubVerifier) Verify(payload []byte, _ string) (*billing.BillingEvent, error) {
	if v.err != nil {
		return nil, v.err
	}
	e := *v.event
	e.RawPayload = payload
	return &e, nil
}

type failingDeduper struct{}

func (failingDeduper) Seen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingDeduper) MarkProcessed(context.Context, string) error {
	return errors.New("redis down")
}

func newReconciler(t *testing.T, store billing.Store, verifier billing.Verifier, mutate ...func(*billing.ReconcilerConfig)) *billing.Reconciler {
	t.Helper()
	config := billing.ReconcilerConfig{
		Provider:    "stripe",
		Verifier:    verifier,
		TierMapping: billing.MustTierMapping(map[string]string{"price_butler": "butler"}),
		Updater:     newUpdater(t, store),
	}
	for _, m := range mutate {
		m(&config)
	}
	r, err := billing.NewReconciler(config)
	require.NoError(t, err)
	return r
}

func createdEvent(id string) *billing.BillingEvent {
	return &billing.BillingEvent{
		EventID:           id,
		Type:              billing.EventSubscriptionCreated,
		ProviderType:      "customer.subscription.created",
		CustomerID:        "cus_1",
		PriceOrProductIDs: []string{"price_butler"},
		ProviderStatus:    billing.StatusActive,
		OccurredAt:        time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewReconciler_RequiresVerifierAndUpdater(t *testing.T) {
	_, err := billing.NewReconciler(billing.ReconcilerConfig{})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}

func TestReconciler_Handle_AppliesEvent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.LinkCustomer(ctx, "user1", "cus_1"))
	r := newReconciler(t, store, &stubVerifier{event: createdEvent("evt_1")})

	result, err := r.Handle(ctx, []byte("valid"), "sig")
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeUpdated, result.Outcome)
	assert.Equal(t, "evt_1", result.Event.EventID)

	rec, err := store.GetRecord(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierButler, rec.Tier)
	assert.Equal(t, createdEvent("").OccurredAt, rec.LastEventAt)
}

func TestReconciler_Handle_RejectsUnverified(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.LinkCustomer(ctx, "user1", "cus_1"))

	for _, verr := range []error{billing.ErrInvalidSignature, billing.ErrMalformedPayload} {
		r := newReconciler(t, store, &stubVerifier{err: fmt.Errorf("%w: test", verr)})
		result, err := r.Handle(ctx, []byte("forged"), "bad")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, verr)
	}

	rec, err := store.GetRecord(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierGuest, rec.Tier)
}

func TestReconciler_Handle_IgnoresOtherEvents(t *testing.T) {
	store := memory.New()
	event := &billing.BillingEvent{EventID: "evt_2", Type: billing.EventOther, ProviderType: "invoice.paid"}
	r := newReconciler(t, store, &stubVerifier{event: event})

	result, err := r.Handle(context.Background(), []byte("valid"), "sig")
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, result.Outcome)
	assert.Nil(t, result.Update)
}

func TestReconciler_Handle_Deduplicates(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.LinkCustomer(ctx, "user1", "cus_1"))
	dedupe := memory.NewDeduplicator(time.Hour)

	calls := 0
	r := newReconciler(t, store, &stubVerifier{event: createdEvent("evt_3")}, func(c *billing.ReconcilerConfig) {
		c.Deduplicator = dedupe
		c.WebhookCallback = func(context.Context, billing.WebhookEvent) error {
			calls++
			return nil
		}
	})

	first, err := r.Handle(ctx, []byte("valid"), "sig")
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeUpdated, first.Outcome)

	second, err := r.Handle(ctx, []byte("valid"), "sig")
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDuplicateEvent, second.Outcome)
	assert.Equal(t, 1, calls)
}

func TestReconciler_Handle_DeduperFailureFallsThrough(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.LinkCustomer(ctx, "user1", "cus_1"))
	r := newReconciler(t, store, &stubVerifier{event: createdEvent("evt_4")}, func(c *billing.ReconcilerConfig) {
		c.Deduplicator = failingDeduper{}
	})

	result, err := r.Handle(ctx, []byte("valid"), "sig")
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeUpdated, result.Outcome)
}

func TestReconciler_Handle_StoreFailureNotMarked(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	require.NoError(t, mem.LinkCustomer(ctx, "user1", "cus_1"))
	store := &flakyStore{Store: mem, findErr: errors.New("unavailable")}
	dedupe := memory.NewDeduplicator(time.Hour)

	r := newReconciler(t, store, &stubVerifier{event: createdEvent("evt_5")}, func(c *billing.ReconcilerConfig) {
		c.Deduplicator = dedupe
	})

	_, err := r.Handle(ctx, []byte("valid"), "sig")
	assert.ErrorIs(t, err, billing.ErrStoreUnavailable)

	seen, err := dedupe.Seen(ctx, "evt_5")
	require.NoError(t, err)
	assert.False(t, seen, "failed events must stay eligible for redelivery")
}

func TestReconciler_Handle_CallbackPerChangedUser(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.LinkCustomer(ctx, "user1", "cus_1"))
	require.NoError(t, store.LinkCustomer(ctx, "user2", "cus_1"))

	var events []billing.WebhookEvent
	r := newReconciler(t, store, &stubVerifier{event: createdEvent("evt_6")}, func(c *billing.ReconcilerConfig) {
		c.WebhookCallback = func(_ context.Context, e billing.WebhookEvent) error {
			events = append(events, e)
			return errors.New("ignored")
		}
	})

	result, err := r.Handle(ctx, []byte("valid"), "sig")
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDuplicateBinding, result.Outcome)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.True(t, e.TierChanged())
		assert.Equal(t, billing.TierButler, e.NewTier)
		assert.Equal(t, "cus_1", e.CustomerID)
	}
}
