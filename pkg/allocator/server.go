package allocator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/quorum/pkg/metrics"
)

// Server exposes one shard over HTTP, grounded on the
// pkg/api/health.go NewXServer(deps)/mux.HandleFunc/Start(addr) shape.
type Server struct {
	shard *Shard
	mux   *http.ServeMux
}

// NewServer builds the HTTP surface for a single allocator shard.
func NewServer(shard *Shard) *Server {
	s := &Server{shard: shard, mux: http.NewServeMux()}
	s.mux.HandleFunc("/timestamp", s.handleTimestamp)
	s.mux.HandleFunc("/reset", s.handleReset)
	s.mux.Handle("/health", metrics.HealthHandler())
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// Start serves the shard's HTTP surface on addr.
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

func (s *Server) handleTimestamp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ts := s.shard.Next()
	metrics.AllocatorIssuedTotal.WithLabelValues(shardLabel(s.shard)).Inc()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(timestampResponse{Timestamp: ts, ServerID: s.shard.ServerID})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.shard.Reset()
	metrics.AllocatorResetTotal.WithLabelValues(shardLabel(s.shard)).Inc()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func shardLabel(s *Shard) string {
	return strconv.FormatInt(s.ServerID, 10)
}
