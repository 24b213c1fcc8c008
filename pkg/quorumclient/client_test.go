package quorumclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		json.NewEncoder(w).Encode(Status{
			Primary:         "db-1",
			Followers:       []string{"db-2", "db-3"},
			ReplicationMode: "log-shipping",
			FailoverState:   "steady",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	status, err := c.Status()
	require.NoError(t, err)

	assert.Equal(t, "db-1", status.Primary)
	assert.Equal(t, "log-shipping", status.ReplicationMode)
}

func TestQuerySendsConsistencyLevel(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(QueryResult{Success: true, ExecutedOn: "db-1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Query("SELECT 1", "eventual")
	require.NoError(t, err)

	assert.Equal(t, "eventual", gotBody["consistency"])
	assert.True(t, result.Success)
}

func TestErrorResponseSurfacesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no healthy quorum", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.StopMaster()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
