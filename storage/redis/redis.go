// Package redis provides Redis-backed helpers for the billing reconciler: a
// webhook event Deduplicator shared by all instances, and a short-lived
// cache in front of the billing record reader used by feature gates.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/confortos/confort/pkg/billing"
)

// Config holds Redis configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "confort:billing:")
	KeyPrefix string

	// EventTTL is how long processed event ids are remembered (default: 72h)
	EventTTL time.Duration

	// RecordTTL is how long cached billing records are served (default: 30s)
	RecordTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "confort:billing:",
		EventTTL:  72 * time.Hour,
		RecordTTL: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.EventTTL <= 0 {
		c.EventTTL = d.EventTTL
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = d.RecordTTL
	}
}

// Deduplicator implements billing.Deduplicator using Redis keys with a TTL
type Deduplicator struct {
	client redis.UniversalClient
	config Config
}

var _ billing.Deduplicator = (*Deduplicator)(nil)

// NewDeduplicator creates a Redis deduplicator.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func NewDeduplicator(client redis.UniversalClient, config Config) (*Deduplicator, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	config.applyDefaults()
	return &Deduplicator{client: client, config: config}, nil
}

func (d *Deduplicator) eventKey(eventID string) string {
	return d.config.KeyPrefix + "event:" + eventID
}

// Seen implements billing.Deduplicator
func (d *Deduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed implements billing.Deduplicator
func (d *Deduplicator) MarkProcessed(ctx context.Context, eventID string) error {
	// SET NX keeps the first processing time of a redelivered id
	err := d.client.SetNX(ctx, d.eventKey(eventID), time.Now().UTC().Format(time.RFC3339), d.config.EventTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return nil
}

// Ping checks the Redis connection
func (d *Deduplicator) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// RecordCache is a read-through billing.RecordReader. Cache failures fall
// back to the underlying reader.
type RecordCache struct {
	client redis.UniversalClient
	reader billing.RecordReader
	config Config
}

var _ billing.RecordReader = (*RecordCache)(nil)

// NewRecordCache wraps reader with a Redis cache
func NewRecordCache(client redis.UniversalClient, reader billing.RecordReader, config Config) (*RecordCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("record reader is required")
	}
	config.applyDefaults()
	return &RecordCache{client: client, reader: reader, config: config}, nil
}

func (c *RecordCache) recordKey(userID string) string {
	return c.config.KeyPrefix + "record:" + userID
}

// GetRecord implements billing.RecordReader
func (c *RecordCache) GetRecord(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	data, err := c.client.Get(ctx, c.recordKey(userID)).Bytes()
	if err == nil {
		var rec billing.UserBillingRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := c.reader.GetRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(rec); err == nil {
		_ = c.client.Set(ctx, c.recordKey(userID), data, c.config.RecordTTL).Err()
	}
	return rec, nil
}

// Invalidate drops the cached record of userID
func (c *RecordCache) Invalidate(ctx context.Context, userID string) error {
	err := c.client.Del(ctx, c.recordKey(userID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to invalidate record %s: %w", userID, err)
	}
	return nil
}

// WebhookCallback returns a callback that invalidates records written by a webhook
func (c *RecordCache) WebhookCallback() billing.WebhookCallback {
	return func(ctx context.Context, event billing.WebhookEvent) error {
		return c.Invalidate(ctx, event.UserID)
	}
}
