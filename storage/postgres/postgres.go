// Package postgres provides a PostgreSQL implementation of billing.Store on a
// Supabase-style profiles table, plus a billing.Deduplicator backed by a
// processed-events table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/confortos/confort/pkg/billing"
)

// Store implements billing.Store and billing.Deduplicator using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config

	profiles string // sanitized table identifiers
	events   string

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

var (
	_ billing.Store        = (*Store)(nil)
	_ billing.Deduplicator = (*Store)(nil)
)

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// ProfilesTable holds one row per user. Default: "profiles"
	ProfilesTable string

	// EventsTable remembers processed webhook event ids.
	// Default: "billing_processed_events"
	EventsTable string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often expired event ids are deleted
	EventTTL        time.Duration // How long processed event ids are remembered
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		ProfilesTable:   "profiles",
		EventsTable:     "billing_processed_events",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
		EventTTL:        72 * time.Hour,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	defaults := DefaultConfig()
	if config.ProfilesTable == "" {
		config.ProfilesTable = defaults.ProfilesTable
	}
	if config.EventsTable == "" {
		config.EventsTable = defaults.EventsTable
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.EventTTL <= 0 {
		config.EventTTL = defaults.EventTTL
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:        pool,
		config:      config,
		profiles:    pgx.Identifier{config.ProfilesTable}.Sanitize(),
		events:      pgx.Identifier{config.EventsTable}.Sanitize(),
		stopCleanup: cancel,
	}

	if config.CleanupEnabled {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Store) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables and the customer id index if missing.
// Existing profiles tables must already carry the billing columns.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.profiles + ` (
			id                  TEXT PRIMARY KEY,
			stripe_customer_id  TEXT,
			subscription_tier   TEXT NOT NULL DEFAULT 'guest',
			subscription_status TEXT NOT NULL DEFAULT 'none',
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_event_at       TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{s.config.ProfilesTable + "_stripe_customer_id_idx"}.Sanitize() +
			` ON ` + s.profiles + ` (stripe_customer_id)`,
		`CREATE TABLE IF NOT EXISTS ` + s.events + ` (
			event_id   TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

const recordColumns = `id, COALESCE(stripe_customer_id, ''), subscription_tier, subscription_status, updated_at, last_event_at`

func scanRecord(row pgx.Row) (billing.UserBillingRecord, error) {
	var (
		rec         billing.UserBillingRecord
		tierName    string
		status      string
		lastEventAt *time.Time
	)
	if err := row.Scan(&rec.UserID, &rec.CustomerID, &tierName, &status, &rec.UpdatedAt, &lastEventAt); err != nil {
		return rec, err
	}
	// Unknown tier names (older naming schemes) fail closed to guest
	rec.Tier, _ = billing.ParseTier(tierName)
	rec.Status = billing.Status(status)
	if rec.Status == "" {
		rec.Status = billing.StatusNone
	}
	if lastEventAt != nil {
		rec.LastEventAt = lastEventAt.UTC()
	}
	return rec, nil
}

// GetRecord implements billing.RecordReader
func (s *Store) GetRecord(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.profiles+` WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	return &rec, nil
}

// FindByCustomerID implements billing.Store
func (s *Store) FindByCustomerID(ctx context.Context, customerID string) ([]billing.UserBillingRecord, error) {
	if customerID == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM `+s.profiles+` WHERE stripe_customer_id = $1 ORDER BY id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles by customer %s: %w", customerID, err)
	}
	defer rows.Close()

	var records []billing.UserBillingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	return records, nil
}

// ApplyBilling implements billing.Store with a single conditional UPDATE.
func (s *Store) ApplyBilling(ctx context.Context, userID string, update billing.BillingUpdate) (bool, error) {
	var eventTime *time.Time
	if !update.EventTime.IsZero() {
		t := update.EventTime.UTC()
		eventTime = &t
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.profiles+` SET
			subscription_tier = $2,
			subscription_status = $3,
			updated_at = now(),
			last_event_at = CASE
				WHEN $4::timestamptz IS NOT NULL AND (last_event_at IS NULL OR $4::timestamptz > last_event_at)
				THEN $4::timestamptz ELSE last_event_at END
		WHERE id = $1
			AND ($4::timestamptz IS NULL OR last_event_at IS NULL OR last_event_at <= $4::timestamptz)`,
		userID, update.Tier.String(), string(update.Status), eventTime)
	if err != nil {
		return false, fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Nothing written: either the row is missing or the event is stale
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.profiles+` WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check profile %s: %w", userID, err)
	}
	if !exists {
		return false, billing.ErrRecordNotFound
	}
	return false, nil
}

// LinkCustomer implements billing.Store
func (s *Store) LinkCustomer(ctx context.Context, userID, customerID string) error {
	if userID == "" || customerID == "" {
		return fmt.Errorf("link customer: user id and customer id are required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.profiles+` (id, stripe_customer_id) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET
				stripe_customer_id = EXCLUDED.stripe_customer_id,
				updated_at = now()`,
		userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to link customer %s to profile %s: %w", customerID, userID, err)
	}
	return nil
}

// Seen implements billing.Deduplicator
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.events+` WHERE event_id = $1 AND expires_at > now())`,
		eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return seen, nil
}

// MarkProcessed implements billing.Deduplicator
func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.events+` (event_id, expires_at) VALUES ($1, $2)
			ON CONFLICT (event_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		eventID, time.Now().UTC().Add(s.config.EventTTL))
	if err != nil {
		return fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return nil
}

// startCleanup periodically deletes expired event ids until Close is called
func (s *Store) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Cleanup(ctx)
		}
	}
}

// Cleanup deletes expired processed-event rows
func (s *Store) Cleanup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.events+` WHERE expires_at < now()`)
	if err != nil {
		return fmt.Errorf("failed to cleanup processed events: %w", err)
	}
	return nil
}

// Ping checks the PostgreSQL connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
