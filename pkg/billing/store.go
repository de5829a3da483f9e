package billing

import (
	"context"
	"time"
)

// UserBillingRecord is the billing slice of a user's profile.
// It is mutated only by the Updater and read by feature gates.
type UserBillingRecord struct {
	UserID string `json:"user_id"`

	// CustomerID is the payment provider customer id, empty until first checkout
	CustomerID string `json:"customer_id,omitempty"`

	Tier   Tier   `json:"tier"`
	Status Status `json:"status"`

	// UpdatedAt is assigned by the store on every write
	UpdatedAt time.Time `json:"updated_at"`

	// LastEventAt is the provider time of the newest applied event
	LastEventAt time.Time `json:"last_event_at,omitempty"`
}

// NewUserBillingRecord returns the default record for a user.
func NewUserBillingRecord(userID string) UserBillingRecord {
	return UserBillingRecord{
		UserID: userID,
		Tier:   TierGuest,
		Status: StatusNone,
	}
}

// BillingUpdate is the overwrite applied to a record.
type BillingUpdate struct {
	Tier   Tier
	Status Status

	// EventTime orders updates. A zero value skips the ordering check.
	EventTime time.Time
}

// RecordReader is the read side of the store used by feature gates.
type RecordReader interface {
	// GetRecord returns ErrRecordNotFound when the user has no record.
	GetRecord(ctx context.Context, userID string) (*UserBillingRecord, error)
}

// Store is the document store holding user billing records.
// Every method is atomic for a single record; no method spans records.
type Store interface {
	RecordReader

	// FindByCustomerID returns every record bound to customerID.
	// An empty result is not an error.
	FindByCustomerID(ctx context.Context, customerID string) ([]UserBillingRecord, error)

	// ApplyBilling overwrites tier and status of a record and stamps UpdatedAt.
	// It returns false without writing when update.EventTime is non-zero and
	// strictly older than the record's LastEventAt.
	// Returns ErrRecordNotFound when the user has no record.
	ApplyBilling(ctx context.Context, userID string, update BillingUpdate) (bool, error)

	// LinkCustomer binds a provider customer id to a user, creating the
	// record with defaults when missing.
	LinkCustomer(ctx context.Context, userID, customerID string) error
}

// IsStale reports whether an update with eventTime must be skipped for a
// record whose newest applied event is lastEventAt. Stores share this rule.
func IsStale(lastEventAt, eventTime time.Time) bool {
	if eventTime.IsZero() || lastEventAt.IsZero() {
		return false
	}
	return eventTime.Before(lastEventAt)
}
