package billing

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const defaultMaxParallelWrites = 4

// Outcome is the terminal state of applying an update for one customer.
type Outcome string

const (
	// OutcomeUpdated means the single bound record was written.
	OutcomeUpdated Outcome = "updated"
	// OutcomeUserNotFound means no record is bound to the customer.
	OutcomeUserNotFound Outcome = "user_not_found"
	// OutcomeDuplicateBinding means several records were bound and all were written.
	OutcomeDuplicateBinding Outcome = "duplicate_binding"
	// OutcomeStale means the stored record already reflects a newer event.
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored means the event carried nothing to apply.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDuplicateEvent means the event id was processed before.
	OutcomeDuplicateEvent Outcome = "duplicate_event"
)

// RecordChange describes the write made (or skipped) for one record.
type RecordChange struct {
	UserID       string
	PreviousTier Tier
	NewTier      Tier
	Applied      bool
	// Missing is set when the record vanished between lookup and write.
	Missing bool
}

// UpdateResult is returned by Updater.Apply.
type UpdateResult struct {
	Outcome    Outcome
	CustomerID string
	Tier       Tier
	Status     Status
	Changes    []RecordChange
}

// UpdaterConfig configures an Updater.
type UpdaterConfig struct {
	// Store is the document store holding user billing records (required)
	Store Store

	// Logger is optional; defaults to NoopLogger
	Logger Logger

	// Metrics is optional; defaults to NoopMetrics
	Metrics Metrics

	// MaxParallelWrites bounds concurrent writes when a customer is bound to
	// several users. Default: 4
	MaxParallelWrites int
}

// Updater applies resolved tiers to the user records owning a customer id.
type Updater struct {
	store       Store
	logger      Logger
	metrics     Metrics
	maxParallel int
}

// NewUpdater creates an Updater.
func NewUpdater(config UpdaterConfig) (*Updater, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("updater: store is required")
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.MaxParallelWrites <= 0 {
		config.MaxParallelWrites = defaultMaxParallelWrites
	}
	return &Updater{
		store:       config.Store,
		logger:      config.Logger,
		metrics:     config.Metrics,
		maxParallel: config.MaxParallelWrites,
	}, nil
}

// Apply overwrites tier and status of every record bound to customerID.
// Policy is last-delivered-wins; use ApplyAt to order by event time.
func (u *Updater) Apply(ctx context.Context, customerID string, tier Tier, status Status) (*UpdateResult, error) {
	return u.ApplyAt(ctx, customerID, BillingUpdate{Tier: tier, Status: status})
}

// ApplyAt is Apply with an event time. Records that already reflect a newer
// event are left untouched.
//
// A missing binding is not an error: the result carries OutcomeUserNotFound.
// Only store failures are returned, wrapped in ErrStoreUnavailable.
func (u *Updater) ApplyAt(ctx context.Context, customerID string, update BillingUpdate) (*UpdateResult, error) {
	result := &UpdateResult{
		CustomerID: customerID,
		Tier:       update.Tier,
		Status:     update.Status,
	}

	if customerID == "" {
		result.Outcome = OutcomeUserNotFound
		u.logger.Warn("billing update without customer id")
		u.metrics.RecordUpdateOutcome(string(result.Outcome))
		return result, nil
	}

	records, err := u.store.FindByCustomerID(ctx, customerID)
	if err != nil {
		u.logger.Error("customer lookup failed",
			F("customer_id", customerID), F("error", err.Error()))
		u.metrics.RecordUpdateOutcome("error")
		return nil, wrapStoreError(err)
	}

	if len(records) == 0 {
		result.Outcome = OutcomeUserNotFound
		u.logger.Warn("no user bound to customer",
			F("customer_id", customerID), F("error", ErrUserNotFound.Error()))
		u.metrics.RecordUpdateOutcome(string(result.Outcome))
		return result, nil
	}

	if len(records) > 1 {
		userIDs := make([]string, len(records))
		for i, rec := range records {
			userIDs[i] = rec.UserID
		}
		u.logger.Warn("customer bound to multiple users, updating all",
			F("customer_id", customerID),
			F("user_ids", userIDs),
			F("error", ErrDuplicateCustomerBinding.Error()))
	}

	changes, err := u.applyAll(ctx, records, update)
	if err != nil {
		u.logger.Error("billing update failed",
			F("customer_id", customerID), F("error", err.Error()))
		u.metrics.RecordUpdateOutcome("error")
		return nil, wrapStoreError(err)
	}
	result.Changes = changes
	result.Outcome = outcomeFor(records, changes)

	u.logger.Info("billing records updated",
		F("customer_id", customerID),
		F("tier", update.Tier.String()),
		F("status", string(update.Status)),
		F("outcome", string(result.Outcome)))
	u.metrics.RecordUpdateOutcome(string(result.Outcome))
	return result, nil
}

func (u *Updater) applyAll(ctx context.Context, records []UserBillingRecord, update BillingUpdate) ([]RecordChange, error) {
	changes := make([]RecordChange, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.maxParallel)
	for i := range records {
		rec := records[i]
		g.Go(func() error {
			missing := false
			applied, err := u.store.ApplyBilling(gctx, rec.UserID, update)
			if errors.Is(err, ErrRecordNotFound) {
				u.logger.Warn("bound record disappeared before update", F("user_id", rec.UserID))
				applied, missing, err = false, true, nil
			}
			if err != nil {
				return err
			}
			if !applied && !missing {
				u.logger.Debug("skipping stale billing update",
					F("user_id", rec.UserID),
					F("event_time", update.EventTime),
					F("last_event_at", rec.LastEventAt))
			}
			changes[i] = RecordChange{
				UserID:       rec.UserID,
				PreviousTier: rec.Tier,
				NewTier:      update.Tier,
				Applied:      applied,
				Missing:      missing,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return changes, nil
}

func outcomeFor(records []UserBillingRecord, changes []RecordChange) Outcome {
	applied := 0
	for _, c := range changes {
		if c.Applied {
			applied++
		}
	}
	switch {
	case len(records) > 1:
		return OutcomeDuplicateBinding
	case applied == 1:
		return OutcomeUpdated
	case len(changes) == 1 && changes[0].Missing:
		return OutcomeUserNotFound
	default:
		return OutcomeStale
	}
}

func wrapStoreError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
