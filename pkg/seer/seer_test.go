package seer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/quorum/pkg/errs"
)

func TestElectNeverReturnsUnhealthyCandidate(t *testing.T) {
	candidates := []Candidate{
		{InstanceID: "unhealthy", Healthy: false},
		{InstanceID: "healthy", Healthy: true, LatencyMS: 50, UptimeSeconds: 1000, CrashCount: 0, ReplicationLag: 0},
	}
	score, err := Elect(candidates, nil)
	assert.NoError(t, err)
	assert.Equal(t, "healthy", score.InstanceID)
	assert.Greater(t, score.Total, 0.0)
}

func TestElectAllUnhealthyReturnsNoEligibleLeader(t *testing.T) {
	candidates := []Candidate{
		{InstanceID: "a", Healthy: false},
		{InstanceID: "b", Healthy: false},
	}
	_, err := Elect(candidates, nil)
	assert.True(t, errors.Is(err, errs.ErrNoEligibleLeader))
}

func TestElectEmptyCandidatesReturnsNoEligibleLeader(t *testing.T) {
	_, err := Elect(nil, nil)
	assert.True(t, errors.Is(err, errs.ErrNoEligibleLeader))
}

func TestElectExcludeList(t *testing.T) {
	candidates := []Candidate{
		{InstanceID: "best", Healthy: true, LatencyMS: 1, UptimeSeconds: 10000, CrashCount: 0, ReplicationLag: 0},
		{InstanceID: "second", Healthy: true, LatencyMS: 50, UptimeSeconds: 5000, CrashCount: 0, ReplicationLag: 0},
	}
	score, err := Elect(candidates, map[string]bool{"best": true})
	assert.NoError(t, err)
	assert.Equal(t, "second", score.InstanceID)
}

func TestElectTiesBrokenByStableID(t *testing.T) {
	candidates := []Candidate{
		{InstanceID: "z", Healthy: true, LatencyMS: 10, UptimeSeconds: 100, CrashCount: 0, ReplicationLag: 0},
		{InstanceID: "a", Healthy: true, LatencyMS: 10, UptimeSeconds: 100, CrashCount: 0, ReplicationLag: 0},
	}
	score, err := Elect(candidates, nil)
	assert.NoError(t, err)
	assert.Equal(t, "a", score.InstanceID)
}

func TestStabilityPenalizesCrashyInstance(t *testing.T) {
	steady := Candidate{InstanceID: "steady", Healthy: true, LatencyMS: 20, UptimeSeconds: 500, CrashCount: 0, ReplicationLag: 0}
	crashy := Candidate{InstanceID: "crashy", Healthy: true, LatencyMS: 20, UptimeSeconds: 500, CrashCount: 5, ReplicationLag: 0}

	score, err := Elect([]Candidate{steady, crashy}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "steady", score.InstanceID)
}

func TestLatencyScoreFormula(t *testing.T) {
	assert.InDelta(t, 1.0, latencyScore(0), 0.0001)
	assert.InDelta(t, 0.5, latencyScore(1), 0.0001)
}

func TestStabilityScoreFormula(t *testing.T) {
	// uptime=100, crashCount=0 -> 100/101
	assert.InDelta(t, 100.0/101.0, stabilityScore(100, 0), 0.0001)
}
