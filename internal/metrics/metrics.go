// Package metrics exposes the engine's Prometheus collectors: crypto
// operation counts/latency, session/slot gauges, and login outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds the engine's own collectors, kept separate from the global
// default registry so a hosting process linking this engine in doesn't
// collide with its own "cryptoki" namespace if it ever reuses the name.
var Registry = prometheus.NewRegistry()

var (
	cryptoOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptoki",
			Subsystem: "crypto",
			Name:      "operations_total",
			Help:      "Total number of crypto operations dispatched, by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	cryptoDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cryptoki",
			Subsystem: "crypto",
			Name:      "operation_duration_seconds",
			Help:      "Duration of single-shot and *-final crypto operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation"},
	)

	sessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cryptoki",
			Subsystem: "session",
			Name:      "open_count",
			Help:      "Current number of open sessions across every slot.",
		},
	)

	tokensPresent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cryptoki",
			Subsystem: "slot",
			Name:      "tokens_present",
			Help:      "Current number of slots occupied by a token.",
		},
	)

	loginOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptoki",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total login attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	certScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cryptoki",
			Subsystem: "certslot",
			Name:      "scan_duration_seconds",
			Help:      "Duration of the one-shot certificate-slot background scan.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)
)

func init() {
	Registry.MustRegister(
		cryptoOperations,
		cryptoDuration,
		sessionsOpen,
		tokensPresent,
		loginOutcomes,
		certScanDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// RecordCryptoOperation records one dispatch of a sign/verify/encrypt/decrypt
// operation (single-shot or *-final), keyed by a short operation name
// ("sign", "verify", "encrypt", "decrypt").
func RecordCryptoOperation(operation string, duration time.Duration, success bool) {
	outcome := "error"
	if success {
		outcome = "ok"
	}
	cryptoOperations.WithLabelValues(operation, outcome).Inc()
	if duration > 0 {
		cryptoDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// SetSessionsOpen reports the current open-session count.
func SetSessionsOpen(n int) { sessionsOpen.Set(float64(n)) }

// SetTokensPresent reports the current occupied-slot count.
func SetTokensPresent(n int) { tokensPresent.Set(float64(n)) }

// RecordLogin records a login attempt's outcome: "success",
// "already-logged-in", "pin-incorrect", "throttled", or "error".
func RecordLogin(outcome string) { loginOutcomes.WithLabelValues(outcome).Inc() }

// RecordCertScan records how long the one-shot certificate-slot scan took.
func RecordCertScan(duration time.Duration) {
	certScanDuration.Observe(duration.Seconds())
}
