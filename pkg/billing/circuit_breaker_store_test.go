package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confortos/confort/pkg/billing"
	"github.com/confortos/confort/storage/memory"
)

type recordingMetrics struct {
	billing.NoopMetrics
	states []string
}

func (m *recordingMetrics) RecordStoreBreakerState(state string) {
	m.states = append(m.states, state)
}

func TestCircuitBreakerStore_PassesThrough(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	cb := billing.NewCircuitBreakerStore(mem, billing.CircuitBreakerConfig{})

	require.NoError(t, cb.LinkCustomer(ctx, "user1", "cus_1"))
	records, err := cb.FindByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	applied, err := cb.ApplyBilling(ctx, "user1", billing.BillingUpdate{Tier: billing.TierButler, Status: billing.StatusActive})
	require.NoError(t, err)
	assert.True(t, applied)

	rec, err := cb.GetRecord(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierButler, rec.Tier)
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreakerStore_NotFoundDoesNotTrip(t *testing.T) {
	cb := billing.NewCircuitBreakerStore(memory.New(), billing.CircuitBreakerConfig{FailureThreshold: 2})

	for i := 0; i < 5; i++ {
		_, err := cb.GetRecord(context.Background(), "ghost")
		assert.ErrorIs(t, err, billing.ErrRecordNotFound)
	}
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreakerStore_OpensAfterFailures(t *testing.T) {
	store := &flakyStore{Store: memory.New(), findErr: errors.New("connection refused")}
	metrics := &recordingMetrics{}
	cb := billing.NewCircuitBreakerStore(store, billing.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Hour,
		Metrics:          metrics,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.FindByCustomerID(ctx, "cus_1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, billing.ErrStoreUnavailable, "backend errors pass through unchanged")
	}
	assert.Equal(t, "open", cb.State())
	assert.Equal(t, []string{"open"}, metrics.states)

	_, err := cb.FindByCustomerID(ctx, "cus_1")
	assert.ErrorIs(t, err, billing.ErrStoreUnavailable)
	assert.Equal(t, 3, store.findCalls, "open breaker must not reach the backend")
}

func TestCircuitBreakerStore_WithUpdater(t *testing.T) {
	store := &flakyStore{Store: memory.New(), findErr: errors.New("connection refused")}
	cb := billing.NewCircuitBreakerStore(store, billing.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	u := newUpdater(t, cb)

	_, err := u.Apply(context.Background(), "cus_1", billing.TierButler, billing.StatusActive)
	assert.ErrorIs(t, err, billing.ErrStoreUnavailable)
	_, err = u.Apply(context.Background(), "cus_1", billing.TierButler, billing.StatusActive)
	assert.ErrorIs(t, err, billing.ErrStoreUnavailable)
	assert.Equal(t, 1, store.findCalls)
}
