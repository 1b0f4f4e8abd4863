// Package metrics exposes Prometheus collectors for the relay layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relay_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	requestsByOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_layer",
			Subsystem: "ledger",
			Name:      "requests_total",
			Help:      "Randomness requests by terminal outcome.",
		},
		[]string{"outcome"}, // created, fulfilled, rejected, expired
	)

	proofAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_layer",
			Subsystem: "proofs",
			Name:      "admissions_total",
			Help:      "Proof admission attempts by result.",
		},
		[]string{"result"}, // admitted, duplicate
	)

	verificationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_layer",
			Subsystem: "verifier",
			Name:      "outcomes_total",
			Help:      "Verification job outcomes.",
		},
		[]string{"outcome"}, // verified, rejected, timeout
	)

	verificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relay_layer",
			Subsystem: "verifier",
			Name:      "duration_seconds",
			Help:      "Wall time from proof submission to terminal verification status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	relayDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_layer",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Fulfillment delivery attempts per chain by result.",
		},
		[]string{"chain", "result"}, // sent, confirmed, retried, failed, conflict
	)

	operatorAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_layer",
			Subsystem: "relay",
			Name:      "operator_alerts_total",
			Help:      "Conditions requiring operator intervention.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		requestsByOutcome,
		proofAdmissions,
		verificationOutcomes,
		verificationDuration,
		relayDeliveries,
		operatorAlerts,
	)
}

// Handler returns the /metrics endpoint for the relay registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records an HTTP request outcome.
func ObserveRequest(method, path string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// CountRequestOutcome records a ledger request lifecycle event.
func CountRequestOutcome(outcome string) { requestsByOutcome.WithLabelValues(outcome).Inc() }

// CountProofAdmission records a proof admission attempt.
func CountProofAdmission(result string) { proofAdmissions.WithLabelValues(result).Inc() }

// CountVerification records a terminal verification outcome.
func CountVerification(outcome string, elapsed time.Duration) {
	verificationOutcomes.WithLabelValues(outcome).Inc()
	verificationDuration.Observe(elapsed.Seconds())
}

// CountDelivery records a per-chain delivery event.
func CountDelivery(chain, result string) { relayDeliveries.WithLabelValues(chain, result).Inc() }

// CountOperatorAlert records an operator-intervention condition.
func CountOperatorAlert(kind string) { operatorAlerts.WithLabelValues(kind).Inc() }
