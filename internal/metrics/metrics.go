// Package metrics exposes the cluster's Prometheus instrumentation:
// probes sent/timed-out/answered, prepared-op table occupancy, recovery
// throughput, and log-store latency.
//
// One struct holds the promauto-registered collectors; a constructor
// registers them all, and small Record*/Observe* helper methods keep
// callers from touching prometheus types directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for a master/server process.
type Metrics struct {
	ProbesSent     prometheus.Counter
	ProbesAnswered prometheus.Counter
	ProbesTimedOut *prometheus.CounterVec

	ServerListSize prometheus.Gauge

	PreparedOpsActive prometheus.Gauge
	PreparedOpsTotal  *prometheus.CounterVec

	RecoveriesInFlight prometheus.Gauge
	RecoveryAttempts   *prometheus.CounterVec
	RecoveryDuration   prometheus.Histogram

	LogStoreAppendDuration *prometheus.HistogramVec
	LogStoreReadDuration   *prometheus.HistogramVec
}

// New creates and registers all cluster metrics.
func New() *Metrics {
	return &Metrics{
		ProbesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ocx_fd_probes_sent_total",
			Help: "Total number of PING probes originated by this detector",
		}),
		ProbesAnswered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ocx_fd_probes_answered_total",
			Help: "Total number of PING responses received before timeout",
		}),
		ProbesTimedOut: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_fd_probes_timed_out_total",
				Help: "Total number of probes that expired without a response",
			},
			[]string{"kind"}, // kind: self, proxy
		),

		ServerListSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ocx_fd_server_list_size",
			Help: "Number of entries in the locally cached server list",
		}),

		PreparedOpsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ocx_preparedops_active",
			Help: "Number of prepared operations currently buffered",
		}),
		PreparedOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_preparedops_total",
				Help: "Total prepared operations processed",
			},
			[]string{"outcome"}, // outcome: popped, watchdog_fired, duplicate
		),

		RecoveriesInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ocx_recovery_inflight",
			Help: "Number of recovery jobs currently waiting in the queue (jobs a worker is running are not counted)",
		}),
		RecoveryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_recovery_attempts_total",
				Help: "Total recovery participant-decision attempts",
			},
			[]string{"result"}, // result: ok, failed, dropped
		),
		RecoveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocx_recovery_duration_seconds",
			Help:    "Duration of one successful participant decision request during recovery",
			Buckets: prometheus.DefBuckets,
		}),

		LogStoreAppendDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocx_logstore_append_duration_seconds",
				Help:    "Duration of prepared-op log append calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		LogStoreReadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocx_logstore_read_duration_seconds",
				Help:    "Duration of prepared-op log read calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
	}
}

// RecordProbeSent increments the probe-sent counter.
func (m *Metrics) RecordProbeSent() {
	m.ProbesSent.Inc()
}

// RecordProbeAnswered increments the probe-answered counter.
func (m *Metrics) RecordProbeAnswered() {
	m.ProbesAnswered.Inc()
}

// RecordProbeTimedOut increments the timed-out counter for the given
// probe kind ("self" or "proxy").
func (m *Metrics) RecordProbeTimedOut(kind string) {
	m.ProbesTimedOut.WithLabelValues(kind).Inc()
}

// SetServerListSize records the current server list length.
func (m *Metrics) SetServerListSize(n int) {
	m.ServerListSize.Set(float64(n))
}

// SetPreparedOpsActive records the current prepared-ops table size.
func (m *Metrics) SetPreparedOpsActive(n int) {
	m.PreparedOpsActive.Set(float64(n))
}

// RecordPreparedOpOutcome increments the outcome counter for a
// completed prepared operation ("popped", "watchdog_fired",
// "duplicate").
func (m *Metrics) RecordPreparedOpOutcome(outcome string) {
	m.PreparedOpsTotal.WithLabelValues(outcome).Inc()
}

// SetRecoveriesInFlight records the current recovery queue length; jobs
// already taken by a worker are not included.
func (m *Metrics) SetRecoveriesInFlight(n int) {
	m.RecoveriesInFlight.Set(float64(n))
}

// RecordRecoveryAttempt increments the attempt counter for a
// participant-decision result ("ok", "failed", "dropped").
func (m *Metrics) RecordRecoveryAttempt(result string) {
	m.RecoveryAttempts.WithLabelValues(result).Inc()
}

// ObserveRecoveryDuration records how long one successful participant
// decision request took.
func (m *Metrics) ObserveRecoveryDuration(d time.Duration) {
	m.RecoveryDuration.Observe(d.Seconds())
}

// ObserveLogStoreAppend records an Append call's duration for backend.
func (m *Metrics) ObserveLogStoreAppend(backend string, d time.Duration) {
	m.LogStoreAppendDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// ObserveLogStoreRead records a Read call's duration for backend.
func (m *Metrics) ObserveLogStoreRead(backend string, d time.Duration) {
	m.LogStoreReadDuration.WithLabelValues(backend).Observe(d.Seconds())
}
