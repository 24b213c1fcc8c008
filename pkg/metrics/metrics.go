package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sampler metrics, one series per known instance id.
	SamplerLatencyMS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorum_sampler_latency_ms",
			Help: "Round-trip latency of the last probe against an instance, in milliseconds",
		},
		[]string{"instance_id"},
	)

	SamplerReplicationLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorum_sampler_replication_lag",
			Help: "Logical timestamp lag of an instance behind the current primary",
		},
		[]string{"instance_id"},
	)

	SamplerUptimeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorum_sampler_uptime_seconds",
			Help: "Seconds since an instance's last healthy<->unhealthy transition, while healthy",
		},
		[]string{"instance_id"},
	)

	SamplerCrashCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorum_sampler_crash_count",
			Help: "Cumulative healthy-to-unhealthy transitions observed for an instance",
		},
		[]string{"instance_id"},
	)

	SamplerHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorum_sampler_healthy",
			Help: "Whether the sampler considers an instance healthy (1) or not (0)",
		},
		[]string{"instance_id"},
	)

	SamplerProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorum_sampler_probe_duration_seconds",
			Help:    "Time taken to complete one sampling round across all instances",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Allocator metrics.
	AllocatorIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_allocator_issued_total",
			Help: "Total logical timestamps issued, by shard",
		},
		[]string{"shard_id"},
	)

	AllocatorResetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_allocator_reset_total",
			Help: "Total counter resets performed, by shard",
		},
		[]string{"shard_id"},
	)

	// Cabinet / SEER metrics.
	CabinetNoHealthyQuorumTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_cabinet_no_healthy_quorum_total",
			Help: "Total Cabinet selections that returned NoHealthyQuorum",
		},
	)

	SeerNoEligibleLeaderTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_seer_no_eligible_leader_total",
			Help: "Total SEER elections that found no eligible leader",
		},
	)

	SeerElectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorum_seer_election_duration_seconds",
			Help:    "Time taken to score candidates and elect a leader",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Write / read coordinator metrics, by consistency level.
	WriteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_write_requests_total",
			Help: "Total write requests handled, by consistency level and outcome",
		},
		[]string{"consistency", "outcome"},
	)

	WriteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_write_latency_seconds",
			Help:    "End-to-end write request latency, by consistency level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consistency"},
	)

	QuorumNotAchievedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_quorum_not_achieved_total",
			Help: "Total STRONG writes that returned quorum_achieved=false after the catch-up deadline",
		},
	)

	ReadRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_read_requests_total",
			Help: "Total read requests handled, by consistency level and executed-on role",
		},
		[]string{"consistency", "executed_on"},
	)

	ReadLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_read_latency_seconds",
			Help:    "End-to-end read request latency, by consistency level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consistency"},
	)

	// Failover metrics.
	FailoverTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_failover_total",
			Help: "Total failover sequences, by outcome",
		},
		[]string{"outcome"},
	)

	FailoverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorum_failover_duration_seconds",
			Help:    "Time from DETECTING to STEADY for a completed failover",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	FailoverState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorum_failover_state",
			Help: "Current failover orchestrator state, encoded as an ordinal (see pkg/failover)",
		},
	)

	// API metrics.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_api_requests_total",
			Help: "Total control API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		SamplerLatencyMS,
		SamplerReplicationLag,
		SamplerUptimeSeconds,
		SamplerCrashCount,
		SamplerHealthy,
		SamplerProbeDuration,
		AllocatorIssuedTotal,
		AllocatorResetTotal,
		CabinetNoHealthyQuorumTotal,
		SeerNoEligibleLeaderTotal,
		SeerElectionDuration,
		WriteRequestsTotal,
		WriteLatency,
		QuorumNotAchievedTotal,
		ReadRequestsTotal,
		ReadLatency,
		FailoverTotal,
		FailoverDuration,
		FailoverState,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler, mounted at /metrics on every
// daemon's mux except samplerd's, whose /metrics serves its health snapshot.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording the result to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
