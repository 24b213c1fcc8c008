/*
Package metrics registers the Prometheus series exposed by every quorum
daemon and provides the shared Timer helper used to record them.

# Catalog

Sampler: quorum_sampler_latency_ms, quorum_sampler_replication_lag,
quorum_sampler_uptime_seconds, quorum_sampler_crash_count,
quorum_sampler_healthy — one series per instance id, all written by
pkg/sampler's background loop.

Allocator: quorum_allocator_issued_total, quorum_allocator_reset_total, by
shard id.

Cabinet / SEER: quorum_cabinet_no_healthy_quorum_total,
quorum_seer_no_eligible_leader_total, quorum_seer_election_duration_seconds.

Write / read coordinators: quorum_write_requests_total,
quorum_write_latency_seconds, quorum_quorum_not_achieved_total,
quorum_read_requests_total, quorum_read_latency_seconds.

Failover: quorum_failover_total, quorum_failover_duration_seconds,
quorum_failover_state.

Control API: quorum_api_requests_total, quorum_api_request_duration_seconds.

# Usage

	timer := metrics.NewTimer()
	// ... do the work ...
	timer.ObserveDurationVec(metrics.WriteLatency, string(consistency))

/metrics is mounted on every daemon's http.ServeMux via metrics.Handler(),
wrapping Prometheus's promhttp.Handler() directly, except on samplerd,
whose /metrics serves the sampler's health snapshot instead.
*/
package metrics
