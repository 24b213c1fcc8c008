package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/quorum/pkg/errs"
	"github.com/cuemby/quorum/pkg/failover"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/read"
	"github.com/cuemby/quorum/pkg/router"
	"github.com/cuemby/quorum/pkg/sampler"
	"github.com/cuemby/quorum/pkg/topology"
	"github.com/cuemby/quorum/pkg/types"
	"github.com/cuemby/quorum/pkg/write"
)

// ReplicationMode is the fixed replication strategy this repository
// implements: the coordinator never replays statements itself, it only
// observes engine-native log-shipping via logical timestamps.
const ReplicationMode = "log-shipping"

// Server is the Control API: a thin net/http.ServeMux binding over the
// write/read coordinators, failover orchestrator, and sampler.
type Server struct {
	mux *http.ServeMux

	topo     *topology.Topology
	write    *write.Coordinator
	read     *read.Coordinator
	failover *failover.Orchestrator
	sampler  *sampler.Sampler
	conns    write.ConnMap
	registry map[string]*types.Instance

	counters *metrics.ConsistencyCounters
	version  string
}

// NewServer builds the Control API over its component dependencies.
// registry is the full instance roster (including any instance currently
// offline pending rejoin), keyed by instance id, used to resolve
// /admin/start-instance and /admin/restart-old-master targets.
func NewServer(
	topo *topology.Topology,
	writeCoord *write.Coordinator,
	readCoord *read.Coordinator,
	fo *failover.Orchestrator,
	samp *sampler.Sampler,
	conns write.ConnMap,
	registry map[string]*types.Instance,
	version string,
) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		topo:     topo,
		write:    writeCoord,
		read:     readCoord,
		failover: fo,
		sampler:  samp,
		conns:    conns,
		registry: registry,
		counters: metrics.NewConsistencyCounters(),
		version:  version,
	}

	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/admin/topology", s.handleTopology)
	s.mux.HandleFunc("/table-timestamps", s.handleTableTimestamps)
	s.mux.HandleFunc("/consistency-metrics", s.handleConsistencyMetrics)
	s.mux.HandleFunc("/admin/stop-master", s.handleStopMaster)
	s.mux.HandleFunc("/admin/stop-master-only", s.handleStopMasterOnly)
	s.mux.HandleFunc("/admin/promote-leader", s.handlePromoteLeader)
	s.mux.HandleFunc("/admin/start-instance", s.handleStartInstance)
	s.mux.HandleFunc("/admin/restart-old-master", s.handleRestartOldMaster)
	s.mux.HandleFunc("/admin/clear-data", s.handleClearData)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mountAmbient()

	metrics.SetVersion(version)
	metrics.RegisterComponent("topology", true, "")
	metrics.RegisterComponent("dbconn", true, "")
	metrics.RegisterComponent("api", true, "")

	return s
}

// Start serves the Control API on addr.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler returns the underlying mux for embedding or testing.
func (s *Server) Handler() http.Handler { return s.mux }

type queryRequest struct {
	Statement   string `json:"statement"`
	Consistency string `json:"consistency,omitempty"`
}

type queryResponse struct {
	Success         bool             `json:"success"`
	Timestamp       int64            `json:"timestamp,omitempty"`
	RowsAffected    int64            `json:"rows_affected,omitempty"`
	Rows            []map[string]any `json:"rows,omitempty"`
	ExecutedOn      string           `json:"executed_on"`
	LatencyMS       int64            `json:"latency_ms"`
	QuorumAchieved  *bool            `json:"quorum_achieved,omitempty"`
	ReplicaCaughtUp *bool            `json:"replica_caught_up,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	level := types.Consistency(req.Consistency)
	if level == "" {
		level = types.EVENTUAL
	}
	if !level.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid consistency level %q", req.Consistency))
		return
	}

	classified, err := router.Classify(req.Statement)
	if err != nil {
		s.counters.RecordFailure(string(level))
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	if classified.Verb.IsWrite() {
		s.serveWrite(w, ctx, req.Statement, level)
		return
	}
	s.serveRead(w, ctx, req.Statement, level)
}

func (s *Server) serveWrite(w http.ResponseWriter, ctx context.Context, statement string, level types.Consistency) {
	result, err := s.write.Execute(ctx, statement, level)
	if err != nil {
		s.counters.RecordFailure(string(level))
		status, mapped := mapError(err)
		writeError(w, status, mapped)
		return
	}
	s.counters.RecordSuccess(string(level), result.Latency)
	if result.QuorumAchieved != nil && !*result.QuorumAchieved {
		s.counters.RecordTimeout(string(level))
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Success:         result.Success,
		Timestamp:       result.Timestamp,
		RowsAffected:    result.RowsAffected,
		ExecutedOn:      result.ExecutedOn,
		LatencyMS:       result.Latency.Milliseconds(),
		QuorumAchieved:  result.QuorumAchieved,
		ReplicaCaughtUp: result.ReplicaCaughtUp,
	})
}

func (s *Server) serveRead(w http.ResponseWriter, ctx context.Context, statement string, level types.Consistency) {
	result, err := s.read.Execute(ctx, statement, level)
	if err != nil {
		s.counters.RecordFailure(string(level))
		status, mapped := mapError(err)
		writeError(w, status, mapped)
		return
	}
	s.counters.RecordSuccess(string(level), result.Latency)

	writeJSON(w, http.StatusOK, queryResponse{
		Success:    true,
		Rows:       result.Rows,
		ExecutedOn: result.ExecutedOn,
		LatencyMS:  result.Latency.Milliseconds(),
	})
}

type statusResponse struct {
	Primary         string   `json:"primary"`
	Followers       []string `json:"followers"`
	ReplicationMode string   `json:"replication_mode"`
	FailoverState   string   `json:"failover_state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.topo.Snapshot()
	resp := statusResponse{ReplicationMode: ReplicationMode}
	if snapshot.Primary != nil {
		resp.Primary = snapshot.Primary.ID
	}
	for _, f := range snapshot.Followers {
		resp.Followers = append(resp.Followers, f.ID)
	}
	if s.failover != nil {
		resp.FailoverState = string(s.failover.State())
	}
	writeJSON(w, http.StatusOK, resp)
}

type topologyInstance struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

type topologyResponse struct {
	Primary   *topologyInstance  `json:"primary"`
	Followers []topologyInstance `json:"followers"`
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	snapshot := s.topo.Snapshot()
	resp := topologyResponse{}
	if snapshot.Primary != nil {
		resp.Primary = &topologyInstance{ID: snapshot.Primary.ID, Addr: snapshot.Primary.Addr}
	}
	for _, f := range snapshot.Followers {
		resp.Followers = append(resp.Followers, topologyInstance{ID: f.ID, Addr: f.Addr})
	}
	writeJSON(w, http.StatusOK, resp)
}

type instanceTimestamps struct {
	InstanceID           string           `json:"instance_id"`
	LastAppliedTimestamp int64            `json:"last_applied_timestamp"`
	Lag                  int64            `json:"lag"`
	TableTimestamps      map[string]int64 `json:"table_timestamps"`
}

func (s *Server) handleTableTimestamps(w http.ResponseWriter, r *http.Request) {
	if s.sampler == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sampler not configured"))
		return
	}
	snap := s.sampler.Snapshot()
	out := make([]instanceTimestamps, 0, len(snap.Records))
	for id, rec := range snap.Records {
		out = append(out, instanceTimestamps{
			InstanceID:           id,
			LastAppliedTimestamp: rec.LastAppliedTimestamp,
			Lag:                  rec.Lag(snap.MasterTimestamp),
			TableTimestamps:      rec.TableTimestamps,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"master_timestamp": snap.MasterTimestamp,
		"instances":        out,
	})
}

func (s *Server) handleConsistencyMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.counters.Snapshot())
}

func (s *Server) handleStopMaster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.failover.StopMasterOnly(r.Context()); err != nil {
		status, mapped := mapError(err)
		writeError(w, status, mapped)
		return
	}
	if err := s.failover.TriggerFailover(r.Context()); err != nil {
		status, mapped := mapError(err)
		writeError(w, status, mapped)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStopMasterOnly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.failover.StopMasterOnly(r.Context()); err != nil {
		status, mapped := mapError(err)
		writeError(w, status, mapped)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type promoteLeaderRequest struct {
	NewLeader string `json:"new_leader"`
}

func (s *Server) handlePromoteLeader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req promoteLeaderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.NewLeader == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("new_leader is required"))
		return
	}
	if err := s.failover.PromoteLeader(r.Context(), req.NewLeader); err != nil {
		status, mapped := mapError(err)
		writeError(w, status, mapped)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type startInstanceRequest struct {
	InstanceID string `json:"instance_id"`
}

func (s *Server) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req startInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	instance, ok := s.registry[req.InstanceID]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown instance %q", req.InstanceID))
		return
	}
	if err := s.failover.Rejoin(r.Context(), instance); err != nil {
		status, mapped := mapError(err)
		writeError(w, status, mapped)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRestartOldMaster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot := s.topo.Snapshot()
	inFollowers := func(id string) bool {
		for _, f := range snapshot.Followers {
			if f.ID == id {
				return true
			}
		}
		return false
	}

	var former *types.Instance
	for id, inst := range s.registry {
		if snapshot.Primary != nil && id == snapshot.Primary.ID {
			continue
		}
		if inFollowers(id) {
			continue
		}
		former = inst
		break
	}
	if former == nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": "no offline instance to restart"})
		return
	}

	if err := s.failover.Rejoin(r.Context(), former); err != nil {
		status, mapped := mapError(err)
		writeError(w, status, mapped)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleClearData is a destructive reset of this process's view of the
// cluster: every instance's bookkeeping tables plus the consistency
// counters this same process serves on /consistency-metrics. User tables
// and the sampler's health records (crash counts, uptime) are left as
// they are.
func (s *Server) handleClearData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	for id, conn := range s.conns {
		if err := conn.ClearData(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("clear data on %s: %w", id, err))
			return
		}
	}
	s.counters.Reset()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// mapError maps a pkg/errs sentinel to its HTTP status.
func mapError(err error) (int, error) {
	switch {
	case errors.Is(err, errs.ErrInvalidStatement):
		return http.StatusBadRequest, err
	case errors.Is(err, errs.ErrAllocatorUnavailable),
		errors.Is(err, errs.ErrPrimaryUnavailable),
		errors.Is(err, errs.ErrNoEligibleLeader):
		return http.StatusServiceUnavailable, err
	case errors.Is(err, errs.ErrFailoverInProgress):
		return http.StatusConflict, err
	case errors.Is(err, errs.ErrPromotionFailed),
		errors.Is(err, errs.ErrRewireFailed),
		errors.Is(err, errs.ErrNoHealthyQuorum),
		errors.Is(err, errs.ErrExecutionError):
		return http.StatusInternalServerError, err
	default:
		return http.StatusInternalServerError, err
	}
}
