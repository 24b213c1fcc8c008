package seer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/quorum/pkg/metrics"
)

// Server exposes leader election over HTTP for standalone deployments.
type Server struct {
	mux *http.ServeMux
}

// NewServer builds the HTTP surface for SEER.
func NewServer() *Server {
	s := &Server{mux: http.NewServeMux()}
	s.mux.HandleFunc("/elect", s.handleElect)
	s.mux.Handle("/health", metrics.HealthHandler())
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// Start serves SEER's HTTP surface on addr.
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

type electRequest struct {
	Candidates []Candidate     `json:"candidates"`
	Exclude    map[string]bool `json:"exclude"`
}

func (s *Server) handleElect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req electRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	timer := metrics.NewTimer()
	score, err := Elect(req.Candidates, req.Exclude)
	timer.ObserveDuration(metrics.SeerElectionDuration)
	if err != nil {
		metrics.SeerNoEligibleLeaderTotal.Inc()
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(score)
}
