package gateway

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestWebhookOutcomes_IncrementsCounter(t *testing.T) {
	WebhookOutcomes.Reset()

	WebhookOutcomes.WithLabelValues(string(OutcomeApplied)).Inc()

	m := &dto.Metric{}
	counter, err := WebhookOutcomes.GetMetricWithLabelValues(string(OutcomeApplied))
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1, got %f", m.Counter.GetValue())
	}
}

func TestGatewayMetrics_Registered(t *testing.T) {
	gathered, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := make(map[string]bool)
	for _, mf := range gathered {
		found[mf.GetName()] = true
	}

	// Plain counters register eagerly; label-vec counters only appear
	// after the first observation.
	for _, name := range []string{
		"fleetmaster_gateway_unknown_reference_total",
		"fleetmaster_gateway_fraud_aborts_total",
		"fleetmaster_gateway_replay_aborts_total",
		"fleetmaster_gateway_signature_failures_total",
	} {
		if !found[name] {
			t.Errorf("expected %s to be registered", name)
		}
	}
}
