package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig configures NewCircuitBreakerStore.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive store failures that opens
	// the breaker. Default: 5
	FailureThreshold uint32

	// ResetTimeout is how long the breaker stays open. Default: 30s
	ResetTimeout time.Duration

	// HalfOpenRequests is the number of trial calls in half-open state. Default: 1
	HalfOpenRequests uint32

	Logger  Logger
	Metrics Metrics
}

// CircuitBreakerStore wraps a Store so that a failing backend is answered
// with ErrStoreUnavailable immediately instead of piling up slow calls.
type CircuitBreakerStore struct {
	store Store
	cb    *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreakerStore wraps store with a circuit breaker.
func NewCircuitBreakerStore(store Store, config CircuitBreakerConfig) *CircuitBreakerStore {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 1
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	settings := gobreaker.Settings{
		Name:        "billing-store",
		MaxRequests: config.HalfOpenRequests,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		// Missing records and stale writes are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRecordNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("store circuit breaker state changed",
				F("breaker", name), F("from", from.String()), F("to", to.String()))
			config.Metrics.RecordStoreBreakerState(to.String())
		},
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the current breaker state ("closed", "half-open", "open").
func (s *CircuitBreakerStore) State() string {
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) GetRecord(ctx context.Context, userID string) (*UserBillingRecord, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.store.GetRecord(ctx, userID)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	rec, _ := v.(*UserBillingRecord)
	return rec, nil
}

func (s *CircuitBreakerStore) FindByCustomerID(ctx context.Context, customerID string) ([]UserBillingRecord, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.store.FindByCustomerID(ctx, customerID)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	records, _ := v.([]UserBillingRecord)
	return records, nil
}

func (s *CircuitBreakerStore) ApplyBilling(ctx context.Context, userID string, update BillingUpdate) (bool, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.store.ApplyBilling(ctx, userID, update)
	})
	if err != nil {
		return false, breakerError(err)
	}
	applied, _ := v.(bool)
	return applied, nil
}

func (s *CircuitBreakerStore) LinkCustomer(ctx context.Context, userID, customerID string) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.store.LinkCustomer(ctx, userID, customerID)
	})
	return breakerError(err)
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
