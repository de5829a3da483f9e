package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confortos/confort/pkg/billing"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func testEvent() billing.WebhookEvent {
	return billing.WebhookEvent{
		UserID:         "u1",
		CustomerID:     "cus_1",
		PreviousTier:   billing.TierGuest,
		NewTier:        billing.TierButler,
		Status:         billing.StatusActive,
		Provider:       "stripe",
		EventID:        "evt_1",
		EventType:      "customer.subscription.created",
		EventTimestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "billing.tier.guest", RoutingKey(billing.TierGuest))
	assert.Equal(t, "billing.tier.ruler", RoutingKey(billing.TierRuler))
}

func TestPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, &billing.NoopLogger{})

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, ch.sent, 1)

	sent := ch.sent[0]
	assert.Equal(t, ExchangeName, sent.exchange)
	assert.Equal(t, "billing.tier.butler", sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, "evt_1:u1", sent.msg.MessageId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(sent.msg.Body, &body))
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, "guest", body["previous_tier"])
	assert.Equal(t, "butler", body["new_tier"])
	assert.Equal(t, "active", body["status"])
}

func TestPublish_Error(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := newPublisher(ch, &billing.NoopLogger{})

	assert.Error(t, p.Publish(context.Background(), testEvent()))
}

func TestWebhookCallback_OnlyTierChanges(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, &billing.NoopLogger{})
	p.OnlyTierChanges = true
	callback := p.WebhookCallback()

	unchanged := testEvent()
	unchanged.PreviousTier = billing.TierButler
	require.NoError(t, callback(context.Background(), unchanged))
	assert.Empty(t, ch.sent)

	require.NoError(t, callback(context.Background(), testEvent()))
	assert.Len(t, ch.sent, 1)
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, &billing.NoopLogger{})
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestNewPublisher_Integration(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set, skipping RabbitMQ tests")
	}
	p, err := NewPublisher(url, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.NoError(t, p.Publish(context.Background(), testEvent()))
}
