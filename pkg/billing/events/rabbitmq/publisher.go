// Package rabbitmq publishes billing tier changes to a RabbitMQ topic
// exchange so other services can react to upgrades and downgrades.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/confortos/confort/pkg/billing"
)

const (
	// ExchangeName is the topic exchange billing events are published to
	ExchangeName = "confort.billing"

	routingKeyPrefix = "billing.tier."
)

// channel is the subset of *amqp.Channel the publisher needs
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message is the JSON body of a published tier change
type Message struct {
	UserID       string         `json:"user_id"`
	CustomerID   string         `json:"customer_id"`
	PreviousTier billing.Tier   `json:"previous_tier"`
	NewTier      billing.Tier   `json:"new_tier"`
	Status       billing.Status `json:"status"`
	Provider     string         `json:"provider"`
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Publisher publishes billing events to RabbitMQ.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   billing.Logger

	// OnlyTierChanges skips events whose tier did not move (status-only updates)
	OnlyTierChanges bool

	mu sync.Mutex
}

// NewPublisher dials url and declares the durable topic exchange.
func NewPublisher(url string, logger billing.Logger) (*Publisher, error) {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("RabbitMQ publisher connected", billing.F("exchange", ExchangeName))

	p := newPublisher(ch, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, logger billing.Logger) *Publisher {
	return &Publisher{
		channel:  ch,
		exchange: ExchangeName,
		logger:   logger,
	}
}

// RoutingKey returns the routing key for a tier, e.g. "billing.tier.butler".
func RoutingKey(tier billing.Tier) string {
	return routingKeyPrefix + tier.String()
}

// MessageFor converts a webhook event into the published message body.
func MessageFor(event billing.WebhookEvent) Message {
	return Message{
		UserID:       event.UserID,
		CustomerID:   event.CustomerID,
		PreviousTier: event.PreviousTier,
		NewTier:      event.NewTier,
		Status:       event.Status,
		Provider:     event.Provider,
		EventID:      event.EventID,
		EventType:    event.EventType,
		OccurredAt:   event.EventTimestamp,
	}
}

// Publish sends one billing event.
func (p *Publisher) Publish(ctx context.Context, event billing.WebhookEvent) error {
	body, err := json.Marshal(MessageFor(event))
	if err != nil {
		return fmt.Errorf("failed to encode billing event: %w", err)
	}
	routingKey := RoutingKey(event.NewTier)

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID + ":" + event.UserID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish billing event",
			billing.F("routing_key", routingKey), billing.F("error", err.Error()))
		return err
	}

	p.logger.Debug("billing event published",
		billing.F("routing_key", routingKey), billing.F("user_id", event.UserID))
	return nil
}

// WebhookCallback adapts the publisher to billing.WebhookCallback.
func (p *Publisher) WebhookCallback() billing.WebhookCallback {
	return func(ctx context.Context, event billing.WebhookEvent) error {
		if p.OnlyTierChanges && !event.TierChanged() {
			return nil
		}
		return p.Publish(ctx, event)
	}
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Warn("error closing channel", billing.F("error", err.Error()))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	p.logger.Info("RabbitMQ publisher closed")
	return nil
}
