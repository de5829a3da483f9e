// Package memory provides an in-memory implementation of billing.Store and
// billing.Deduplicator. It is intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/confortos/confort/pkg/billing"
)

// Option configures the in-memory store.
type Option func(*Store)

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store implements billing.Store using an in-memory map keyed by user id
type Store struct {
	mu      sync.RWMutex
	records map[string]*billing.UserBillingRecord
	now     func() time.Time
}

var _ billing.Store = (*Store)(nil)

// New creates a new in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*billing.UserBillingRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put inserts or replaces a record as-is, the way a profile is created at
// sign-up. UpdatedAt is stamped when zero.
func (s *Store) Put(rec billing.UserBillingRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("invalid record: empty user id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = &rec
	return nil
}

// GetRecord implements billing.RecordReader
func (s *Store) GetRecord(_ context.Context, userID string) (*billing.UserBillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// FindByCustomerID implements billing.Store. Results are ordered by user id.
func (s *Store) FindByCustomerID(_ context.Context, customerID string) ([]billing.UserBillingRecord, error) {
	if customerID == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.UserBillingRecord
	for _, rec := range s.records {
		if rec.CustomerID == customerID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ApplyBilling implements billing.Store
func (s *Store) ApplyBilling(_ context.Context, userID string, update billing.BillingUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return false, billing.ErrRecordNotFound
	}
	if billing.IsStale(rec.LastEventAt, update.EventTime) {
		return false, nil
	}

	rec.Tier = update.Tier
	rec.Status = update.Status
	rec.UpdatedAt = s.now().UTC()
	if update.EventTime.After(rec.LastEventAt) {
		rec.LastEventAt = update.EventTime.UTC()
	}
	return true, nil
}

// LinkCustomer implements billing.Store
func (s *Store) LinkCustomer(_ context.Context, userID, customerID string) error {
	if userID == "" || customerID == "" {
		return fmt.Errorf("link customer: user id and customer id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		fresh := billing.NewUserBillingRecord(userID)
		rec = &fresh
		s.records[userID] = rec
	}
	rec.CustomerID = customerID
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
