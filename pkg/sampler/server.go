package sampler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/types"
)

// Server exposes a Sampler's snapshot over HTTP for standalone
// deployments.
type Server struct {
	sampler *Sampler
	mux     *http.ServeMux
}

// NewServer builds the HTTP surface for a Sampler.
func NewServer(s *Sampler) *Server {
	srv := &Server{sampler: s, mux: http.NewServeMux()}
	srv.mux.HandleFunc("/metrics/", srv.handleInstanceSnapshot)
	srv.mux.HandleFunc("/metrics", srv.handleSnapshot)
	srv.mux.HandleFunc("/table-timestamps", srv.handleTableTimestamps)
	srv.mux.Handle("/health", metrics.HealthHandler())
	return srv
}

// Start serves the sampler's HTTP surface on addr.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

type replicaSnapshot struct {
	InstanceID      string           `json:"instance_id"`
	Healthy         bool             `json:"healthy"`
	LatencyMS       int64            `json:"latency_ms"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	CrashCount      int64            `json:"crash_count"`
	LastApplied     int64            `json:"last_applied_timestamp"`
	TableTimestamps map[string]int64 `json:"table_timestamps"`
}

type snapshotResponse struct {
	Replicas        []replicaSnapshot `json:"replicas"`
	MasterTimestamp int64             `json:"master_timestamp"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.sampler.Snapshot()
	resp := snapshotResponse{MasterTimestamp: snap.MasterTimestamp}
	for _, rec := range snap.Records {
		resp.Replicas = append(resp.Replicas, toReplicaSnapshot(rec))
	}
	writeJSON(w, resp)
}

func (s *Server) handleInstanceSnapshot(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/metrics/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	snap := s.sampler.Snapshot()
	rec, ok := snap.Records[id]
	if !ok {
		http.Error(w, "unknown instance", http.StatusNotFound)
		return
	}
	writeJSON(w, toReplicaSnapshot(rec))
}

type tableTimestampsResponse struct {
	Instances map[string]map[string]int64 `json:"instances"`
}

func (s *Server) handleTableTimestamps(w http.ResponseWriter, r *http.Request) {
	snap := s.sampler.Snapshot()
	resp := tableTimestampsResponse{Instances: make(map[string]map[string]int64, len(snap.Records))}
	for id, rec := range snap.Records {
		resp.Instances[id] = rec.TableTimestamps
	}
	writeJSON(w, resp)
}

func toReplicaSnapshot(rec types.HealthRecord) replicaSnapshot {
	return replicaSnapshot{
		InstanceID:      rec.InstanceID,
		Healthy:         rec.Healthy,
		LatencyMS:       rec.LatencyMS,
		UptimeSeconds:   rec.UptimeSeconds,
		CrashCount:      rec.CrashCount,
		LastApplied:     rec.LastAppliedTimestamp,
		TableTimestamps: rec.TableTimestamps,
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
