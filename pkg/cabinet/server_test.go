package cabinet

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSelectReturnsQuorum(t *testing.T) {
	s := NewServer()

	body, err := json.Marshal(selectRequest{
		Members: []Member{
			{InstanceID: "db-2", Healthy: true, LatencyMS: 5, ReplicationLag: 0},
			{InstanceID: "db-3", Healthy: true, LatencyMS: 50, ReplicationLag: 0},
		},
		TotalInstances: 3,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/select", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp selectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.QuorumSize)
	assert.Equal(t, []string{"db-2", "db-3"}, resp.Quorum)
}

func TestHandleSelectRejectsGet(t *testing.T) {
	s := NewServer()

	req := httptest.NewRequest(http.MethodGet, "/select", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSelectReturns503WhenNoHealthyQuorum(t *testing.T) {
	s := NewServer()

	body, _ := json.Marshal(selectRequest{
		Members:        []Member{{InstanceID: "db-2", Healthy: false}},
		TotalInstances: 3,
	})

	req := httptest.NewRequest(http.MethodPost, "/select", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
