package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// WebhookOutcomes counts reconciled webhook deliveries by outcome.
	WebhookOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetmaster",
			Name:      "gateway_webhook_outcomes_total",
			Help:      "Webhook deliveries by reconciliation outcome.",
		},
		[]string{"outcome"},
	)

	// UnknownReferences counts webhooks naming a reference with no ledger row.
	UnknownReferences = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmaster",
			Name:      "gateway_unknown_reference_total",
			Help:      "Webhook events whose reference matched no ledger row.",
		},
	)

	// FraudAborts counts amount or currency mismatches.
	FraudAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmaster",
			Name:      "gateway_fraud_aborts_total",
			Help:      "Webhook events aborted on amount or currency mismatch.",
		},
	)

	// ReplayAborts counts gateway ids re-presented against a second reference.
	ReplayAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmaster",
			Name:      "gateway_replay_aborts_total",
			Help:      "Webhook events aborted because the gateway id was bound to another reference.",
		},
	)

	// SignatureFailures counts deliveries with a bad or missing checksum.
	SignatureFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmaster",
			Name:      "gateway_signature_failures_total",
			Help:      "Webhook deliveries rejected on checksum verification.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WebhookOutcomes,
		UnknownReferences,
		FraudAborts,
		ReplayAborts,
		SignatureFailures,
	)
}
