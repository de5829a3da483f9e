// Package firestore provides a Firestore implementation of billing.Store.
// Billing fields live on the user profile documents of the users collection.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/confortos/confort/pkg/billing"
)

// Field names on the user document.
const (
	fieldCustomerID  = "stripeCustomerId"
	fieldTier        = "subscriptionTier"
	fieldStatus      = "subscriptionStatus"
	fieldUpdatedAt   = "updatedAt"
	fieldLastEventAt = "lastEventAt"
)

// Store implements billing.Store using Google Cloud Firestore
type Store struct {
	client          *firestore.Client
	usersCollection string
}

var _ billing.Store = (*Store)(nil)

// Config holds Firestore storage configuration
type Config struct {
	// UsersCollection is the Firestore collection holding user profiles
	// Default: "users"
	UsersCollection string
}

// New creates a new Firestore store.
// Queries on stripeCustomerId use Firestore's automatic single-field index.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.UsersCollection == "" {
		config.UsersCollection = "users"
	}
	return &Store{
		client:          client,
		usersCollection: config.UsersCollection,
	}, nil
}

func (s *Store) userDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.usersCollection).Doc(userID)
}

// GetRecord implements billing.RecordReader
func (s *Store) GetRecord(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	snap, err := s.userDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	if !snap.Exists() {
		return nil, billing.ErrRecordNotFound
	}

	rec := recordFromData(userID, snap.Data())
	return &rec, nil
}

// FindByCustomerID implements billing.Store
func (s *Store) FindByCustomerID(ctx context.Context, customerID string) ([]billing.UserBillingRecord, error) {
	if customerID == "" {
		return nil, nil
	}

	snaps, err := s.client.Collection(s.usersCollection).
		Where(fieldCustomerID, "==", customerID).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query users by customer %s: %w", customerID, err)
	}

	records := make([]billing.UserBillingRecord, 0, len(snaps))
	for _, snap := range snaps {
		records = append(records, recordFromData(snap.Ref.ID, snap.Data()))
	}
	return records, nil
}

// ApplyBilling implements billing.Store. The ordering check and the write run
// in one transaction so concurrent deliveries cannot interleave.
func (s *Store) ApplyBilling(ctx context.Context, userID string, update billing.BillingUpdate) (bool, error) {
	doc := s.userDoc(userID)
	applied := false

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		applied = false

		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return billing.ErrRecordNotFound
			}
			return err
		}

		lastEventAt := getTime(snap.Data(), fieldLastEventAt)
		if billing.IsStale(lastEventAt, update.EventTime) {
			return nil
		}

		updates := []firestore.Update{
			{Path: fieldTier, Value: update.Tier.String()},
			{Path: fieldStatus, Value: string(update.Status)},
			{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp},
		}
		if update.EventTime.After(lastEventAt) {
			updates = append(updates, firestore.Update{Path: fieldLastEventAt, Value: update.EventTime.UTC()})
		}
		if err := tx.Update(doc, updates); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, billing.ErrRecordNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to apply billing for user %s: %w", userID, err)
	}
	return applied, nil
}

// LinkCustomer implements billing.Store
func (s *Store) LinkCustomer(ctx context.Context, userID, customerID string) error {
	if userID == "" || customerID == "" {
		return fmt.Errorf("link customer: user id and customer id are required")
	}
	doc := s.userDoc(userID)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(doc)
		if status.Code(err) == codes.NotFound {
			return tx.Create(doc, map[string]interface{}{
				fieldCustomerID: customerID,
				fieldTier:       billing.TierGuest.String(),
				fieldStatus:     string(billing.StatusNone),
				fieldUpdatedAt:  firestore.ServerTimestamp,
			})
		}
		if err != nil {
			return err
		}
		return tx.Update(doc, []firestore.Update{
			{Path: fieldCustomerID, Value: customerID},
			{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to link customer %s to user %s: %w", customerID, userID, err)
	}
	return nil
}

func recordFromData(userID string, data map[string]interface{}) billing.UserBillingRecord {
	rec := billing.NewUserBillingRecord(userID)
	rec.CustomerID = getString(data, fieldCustomerID)
	// Unknown tier names (older naming schemes) fail closed to guest
	if tier, err := billing.ParseTier(getString(data, fieldTier)); err == nil {
		rec.Tier = tier
	}
	if st := getString(data, fieldStatus); st != "" {
		rec.Status = billing.Status(st)
	}
	rec.UpdatedAt = getTime(data, fieldUpdatedAt)
	rec.LastEventAt = getTime(data, fieldLastEventAt)
	return rec
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
