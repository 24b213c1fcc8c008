package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quorum/pkg/allocator"
	"github.com/cuemby/quorum/pkg/failover"
	"github.com/cuemby/quorum/pkg/read"
	"github.com/cuemby/quorum/pkg/topology"
	"github.com/cuemby/quorum/pkg/types"
	"github.com/cuemby/quorum/pkg/write"
)

type fakeHealth struct{}

func (fakeHealth) Snapshot() map[string]types.HealthRecord { return map[string]types.HealthRecord{} }

func newTestTopology() *topology.Topology {
	return topology.New(
		&types.Instance{ID: "primary", Addr: "db0:3306"},
		[]*types.Instance{{ID: "f1", Addr: "db1:3306"}},
	)
}

func newTestServer() *Server {
	topo := newTestTopology()
	conns := write.ConnMap{}
	health := fakeHealth{}

	shard := allocator.NewShard(0, 0, 1, 0)
	allocClient := &allocator.LocalClient{Shard: shard}

	writeCoord := write.New(topo, conns, allocClient, nil, health)
	readCoord := read.New(topo, conns, health)
	orch := failover.New(topo, conns, health, nil, failover.DefaultConfig())

	registry := map[string]*types.Instance{
		"primary": {ID: "primary", Addr: "db0:3306"},
		"f1":      {ID: "f1", Addr: "db1:3306"},
	}

	return NewServer(topo, writeCoord, readCoord, orch, nil, conns, registry, "test")
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(context.Background())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestHandleHealthRejectsPost(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "primary", resp.Primary)
	assert.Equal(t, []string{"f1"}, resp.Followers)
	assert.Equal(t, ReplicationMode, resp.ReplicationMode)
	assert.Equal(t, string(types.StateSteady), resp.FailoverState)
}

func TestHandleTopology(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/admin/topology", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp topologyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Primary)
	assert.Equal(t, "primary", resp.Primary.ID)
	require.Len(t, resp.Followers, 1)
	assert.Equal(t, "f1", resp.Followers[0].ID)
}

func TestHandleTableTimestampsWithoutSamplerIsUnavailable(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/table-timestamps", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleConsistencyMetricsEmpty(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/consistency-metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestHandleQueryRejectsInvalidStatement(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/query", queryRequest{Statement: "NOT A STATEMENT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryRejectsBadConsistency(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/query", queryRequest{
		Statement:   "SELECT * FROM users",
		Consistency: "WEAK",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryRejectsGet(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/query", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlePromoteLeaderRequiresNewLeader(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/admin/promote-leader", promoteLeaderRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePromoteLeaderRejectsUnknownCandidate(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/admin/promote-leader", promoteLeaderRequest{NewLeader: "ghost"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStartInstanceRejectsUnknownInstance(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/admin/start-instance", startInstanceRequest{InstanceID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStopMasterOnlyRequiresController(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/admin/stop-master-only", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleClearDataWithNoConnectionsSucceeds(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/admin/clear-data", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleClearDataResetsConsistencyCounters(t *testing.T) {
	s := newTestServer()
	s.counters.RecordSuccess("strong", 5*time.Millisecond)

	rec := doRequest(t, s, http.MethodGet, "/consistency-metrics", nil)
	assert.NotEqual(t, `{}`, rec.Body.String())

	rec = doRequest(t, s, http.MethodPost, "/admin/clear-data", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/consistency-metrics", nil)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestHandleRestartOldMasterWithNoOfflineInstance(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/admin/restart-old-master", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["message"], "no offline instance")
}

func TestMountAmbientServesMetricsAndReady(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
