package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/quorum/pkg/metrics"
)

// HealthResponse represents the liveness response body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
	})
}

func (s *Server) mountAmbient() {
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.Handle("/metrics", metrics.Handler())
}

// handleReady refreshes the "topology" and "dbconn" component states
// from live cluster state before delegating to metrics.GetReadiness:
// topology is unhealthy with no elected primary, dbconn is degraded
// when fewer than every sampled instance is healthy but the write/read quorum
// (the same majority Cabinet selects against) is still reachable, and
// unhealthy when even that quorum is gone.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.refreshReadinessComponents()
	metrics.ReadyHandler()(w, r)
}

func (s *Server) refreshReadinessComponents() {
	if s.topo.Primary() == nil {
		metrics.RegisterComponent("topology", false, "no primary elected")
	} else {
		metrics.RegisterComponent("topology", true, "")
	}

	if s.sampler == nil {
		return
	}

	snapshot := s.sampler.Snapshot()
	total := len(snapshot.Records)
	if total == 0 {
		metrics.RegisterComponent("dbconn", false, "no instances sampled yet")
		return
	}

	healthy := 0
	for _, rec := range snapshot.Records {
		if rec.Healthy {
			healthy++
		}
	}
	quorum := (total + 2) / 2 // ceil((total+1)/2), the same majority Cabinet selects against

	switch {
	case healthy == total:
		metrics.RegisterComponent("dbconn", true, "")
	case healthy >= quorum:
		metrics.SetComponentDegraded("dbconn", fmt.Sprintf("%d/%d instances healthy, quorum of %d intact", healthy, total, quorum))
	default:
		metrics.RegisterComponent("dbconn", false, fmt.Sprintf("%d/%d instances healthy, below quorum of %d", healthy, total, quorum))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
