package cabinet

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/quorum/pkg/metrics"
)

// Server exposes quorum selection over HTTP for standalone deployments.
type Server struct {
	mux *http.ServeMux
}

// NewServer builds the HTTP surface for Cabinet.
func NewServer() *Server {
	s := &Server{mux: http.NewServeMux()}
	s.mux.HandleFunc("/select", s.handleSelect)
	s.mux.Handle("/health", metrics.HealthHandler())
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// Start serves Cabinet's HTTP surface on addr.
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

type selectRequest struct {
	Members        []Member `json:"members"`
	TotalInstances int      `json:"total_instances"`
}

type selectResponse struct {
	Quorum        []string `json:"quorum"`
	QuorumSize    int      `json:"quorum_size"`
	TotalReplicas int      `json:"total_replicas"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := Select(req.Members, req.TotalInstances)
	if err != nil {
		metrics.CabinetNoHealthyQuorumTotal.Inc()
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(selectResponse{
		Quorum:        result.Quorum,
		QuorumSize:    result.QuorumSize,
		TotalReplicas: result.TotalReplicas,
	})
}
