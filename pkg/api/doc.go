/*
Package api implements the Control API: a plain net/http.ServeMux binding
over the Write Coordinator, Read Coordinator, Failover Orchestrator, and
Metrics Sampler, encoded as JSON via encoding/json rather than a web
framework or gRPC. Each handler is a thin adapter; business logic lives
in the component packages it binds to.

# Surface

	POST /query                        -> write or read, routed by statement
	GET  /status                       -> primary, followers, replication mode
	GET  /admin/topology                -> typed topology snapshot
	GET  /table-timestamps              -> per-instance global + per-table lag
	GET  /consistency-metrics           -> per-level counters and latencies
	POST /admin/stop-master             -> stop-and-failover (synchronous)
	POST /admin/stop-master-only         -> stop only, no election
	POST /admin/promote-leader           -> promote + rewire a named candidate
	POST /admin/start-instance            -> (re)start and rejoin as follower
	POST /admin/restart-old-master        -> convenience: start + rejoin former primary
	POST /admin/clear-data               -> destructive reset
	GET  /health, /ready, /metrics

Errors are mapped from pkg/errs sentinels to HTTP status via errors.Is,
not string matching.
*/
package api
