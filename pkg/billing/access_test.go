package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confortos/confort/pkg/billing"
	"github.com/confortos/confort/storage/memory"
)

type brokenReader struct{}

func (brokenReader) GetRecord(context.Context, string) (*billing.UserBillingRecord, error) {
	return nil, errors.New("timeout")
}

func TestCheckAccess(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.LinkCustomer(ctx, "butler-user", "cus_1"))
	_, err := store.ApplyBilling(ctx, "butler-user", billing.BillingUpdate{Tier: billing.TierButler, Status: billing.StatusActive})
	require.NoError(t, err)

	tests := []struct {
		name     string
		userID   string
		min      billing.Tier
		wantOK   bool
		wantTier billing.Tier
	}{
		{"higher tier passes", "butler-user", billing.TierAssistant, true, billing.TierButler},
		{"equal tier passes", "butler-user", billing.TierButler, true, billing.TierButler},
		{"lower tier denied", "butler-user", billing.TierRuler, false, billing.TierButler},
		{"unknown user is guest", "nobody", billing.TierGuest, true, billing.TierGuest},
		{"unknown user denied paid feature", "nobody", billing.TierAssistant, false, billing.TierGuest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, tier, err := billing.CheckAccess(ctx, store, tt.userID, tt.min)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTier, tier)
		})
	}
}

func TestCheckAccess_StoreErrorFailsClosed(t *testing.T) {
	ok, tier, err := billing.CheckAccess(context.Background(), brokenReader{}, "user1", billing.TierGuest)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, billing.TierGuest, tier)
}
