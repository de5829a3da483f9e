package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func labelsOf(m *dto.Metric) map[string]string {
	out := make(map[string]string)
	for _, l := range m.GetLabel() {
		out[l.GetName()] = l.GetValue()
	}
	return out
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "confort")

	m.RecordWebhookEvent("stripe", "customer.subscription.created", "success")
	m.RecordWebhookEvent("stripe", "customer.subscription.created", "success")
	m.RecordWebhookError("stripe", "invalid_signature")
	m.RecordUpdateOutcome("updated")
	m.RecordTierChange("stripe", "guest", "butler")
	m.RecordCustomerSync("stripe", "updated")
	m.RecordAPICall("stripe", "/checkout/sessions", "success")

	families := gather(t, reg)

	events := families["confort_billing_webhook_events_total"]
	require.NotNil(t, events)
	require.Len(t, events.GetMetric(), 1)
	assert.Equal(t, 2.0, events.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, map[string]string{
		"provider":   "stripe",
		"event_type": "customer.subscription.created",
		"status":     "success",
	}, labelsOf(events.GetMetric()[0]))

	for _, name := range []string{
		"confort_billing_webhook_errors_total",
		"confort_billing_update_outcomes_total",
		"confort_billing_tier_changes_total",
		"confort_billing_customer_sync_total",
		"confort_billing_api_calls_total",
	} {
		f := families[name]
		require.NotNil(t, f, name)
		assert.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue(), name)
	}
}

func TestMetrics_Histograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "confort")

	m.RecordWebhookProcessingDuration("stripe", "customer.subscription.updated", 20*time.Millisecond)
	m.RecordCustomerSyncDuration("stripe", time.Second)
	m.RecordAPICallDuration("stripe", "/subscriptions/list", 150*time.Millisecond)

	families := gather(t, reg)
	h := families["confort_billing_webhook_processing_duration_seconds"]
	require.NotNil(t, h)
	assert.Equal(t, uint64(1), h.GetMetric()[0].GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.02, h.GetMetric()[0].GetHistogram().GetSampleSum(), 0.0001)

	require.NotNil(t, families["confort_billing_customer_sync_duration_seconds"])
	require.NotNil(t, families["confort_billing_api_call_duration_seconds"])
}

func TestMetrics_BreakerState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "confort")

	state := func() map[string]float64 {
		out := make(map[string]float64)
		for _, metric := range gather(t, reg)["confort_billing_store_breaker_state"].GetMetric() {
			out[labelsOf(metric)["state"]] = metric.GetGauge().GetValue()
		}
		return out
	}

	assert.Equal(t, map[string]float64{"closed": 1, "half-open": 0, "open": 0}, state())

	m.RecordStoreBreakerState("open")
	assert.Equal(t, map[string]float64{"closed": 0, "half-open": 0, "open": 1}, state())
}
