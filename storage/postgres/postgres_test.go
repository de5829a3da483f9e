package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confortos/confort/pkg/billing"
)

// setupTestStore connects to POSTGRES_TEST_DSN with per-test tables.
// Tests are skipped when the variable is not set.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping PostgreSQL tests")
	}

	ctx := context.Background()
	suffix := time.Now().UnixNano()
	config := DefaultConfig()
	config.ConnectionString = dsn
	config.ProfilesTable = fmt.Sprintf("test_profiles_%d", suffix)
	config.EventsTable = fmt.Sprintf("test_events_%d", suffix)
	config.CleanupEnabled = false

	store, err := New(ctx, config)
	if err != nil {
		t.Skipf("Skipping test: failed to connect to PostgreSQL: %v", err)
	}
	require.NoError(t, store.EnsureSchema(ctx))

	t.Cleanup(func() {
		_, _ = store.pool.Exec(ctx, `DROP TABLE IF EXISTS `+store.profiles+`, `+store.events)
		store.Close()
	})
	return store
}

func TestNew_RequiresConnectionString(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStore_LinkAndFind(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetRecord(ctx, "u1")
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)

	require.NoError(t, store.LinkCustomer(ctx, "u1", "cus_1"))
	require.NoError(t, store.LinkCustomer(ctx, "u2", "cus_1"))

	rec, err := store.GetRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", rec.CustomerID)
	assert.Equal(t, billing.TierGuest, rec.Tier)
	assert.Equal(t, billing.StatusNone, rec.Status)

	records, err := store.FindByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "u1", records[0].UserID)
	assert.Equal(t, "u2", records[1].UserID)
}

func TestStore_ApplyBilling(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.LinkCustomer(ctx, "u1", "cus_1"))

	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	applied, err := store.ApplyBilling(ctx, "u1", billing.BillingUpdate{
		Tier: billing.TierButler, Status: billing.StatusActive, EventTime: t1,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.ApplyBilling(ctx, "u1", billing.BillingUpdate{
		Tier: billing.TierGuest, Status: billing.StatusPastDue, EventTime: t1.Add(-time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, applied, "older event must be skipped")

	applied, err = store.ApplyBilling(ctx, "u1", billing.BillingUpdate{
		Tier: billing.TierRuler, Status: billing.StatusTrialing,
	})
	require.NoError(t, err)
	assert.True(t, applied, "zero event time bypasses ordering")

	rec, err := store.GetRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierRuler, rec.Tier)
	assert.Equal(t, billing.StatusTrialing, rec.Status)
	assert.True(t, t1.Equal(rec.LastEventAt))

	_, err = store.ApplyBilling(ctx, "ghost", billing.BillingUpdate{Tier: billing.TierButler})
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)
}

func TestStore_ConcurrentApply(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.LinkCustomer(ctx, "u1", "cus_1"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ApplyBilling(ctx, "u1", billing.BillingUpdate{
				Tier: billing.TierAssistant, Status: billing.StatusActive,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.GetRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierAssistant, rec.Tier)
}

func TestStore_Deduplicator(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkProcessed(ctx, "evt_1"))
	require.NoError(t, store.MarkProcessed(ctx, "evt_1"))

	seen, err = store.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, store.Cleanup(ctx))
	seen, err = store.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen, "unexpired ids survive cleanup")
}
