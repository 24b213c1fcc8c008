package seer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleElectReturnsBestCandidate(t *testing.T) {
	s := NewServer()

	body, err := json.Marshal(electRequest{
		Candidates: []Candidate{
			{InstanceID: "db-2", Healthy: true, LatencyMS: 10, UptimeSeconds: 3600},
			{InstanceID: "db-3", Healthy: true, LatencyMS: 200, UptimeSeconds: 3600},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/elect", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var score Score
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &score))
	assert.Equal(t, "db-2", score.InstanceID)
}

func TestHandleElectReturns503WhenNoneEligible(t *testing.T) {
	s := NewServer()

	body, _ := json.Marshal(electRequest{
		Candidates: []Candidate{{InstanceID: "db-2", Healthy: false}},
	})

	req := httptest.NewRequest(http.MethodPost, "/elect", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleElectRejectsGet(t *testing.T) {
	s := NewServer()

	req := httptest.NewRequest(http.MethodGet, "/elect", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
