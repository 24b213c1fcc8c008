// Package seer implements performance-aware leader election. Like
// pkg/cabinet, it is a stateless pure function over a health snapshot.
package seer

import (
	"sort"

	"github.com/cuemby/quorum/pkg/errs"
	"github.com/cuemby/quorum/pkg/types"
)

const (
	latencyWeight   = 0.4
	stabilityWeight = 0.4
	lagWeight       = 0.2
	crashPenalty    = 100.0
)

// Candidate is one follower's health view as SEER needs it.
type Candidate struct {
	InstanceID     string
	Healthy        bool
	LatencyMS      int64
	UptimeSeconds  float64
	CrashCount     int64
	ReplicationLag int64
}

// Score is the elected leader's score breakdown, returned to callers for
// observability and the /elect response body.
type Score struct {
	InstanceID     string
	Total          float64
	LatencyMS      int64
	UptimeSeconds  float64
	ReplicationLag int64
	CrashCount     int64
}

func latencyScore(latencyMS int64) float64 {
	return 1.0 / float64(latencyMS+1)
}

func stabilityScore(uptime float64, crashCount int64) float64 {
	return uptime / (uptime + crashPenalty*float64(crashCount) + 1)
}

func lagScore(lag int64) float64 {
	return 1.0 / float64(lag+1)
}

// total computes the 0.4/0.4/0.2 weighted score for one healthy candidate.
func total(c Candidate) float64 {
	if !c.Healthy {
		return 0
	}
	return latencyWeight*latencyScore(c.LatencyMS) +
		stabilityWeight*stabilityScore(c.UptimeSeconds, c.CrashCount) +
		lagWeight*lagScore(c.ReplicationLag)
}

// Elect picks the highest-scoring candidate not present in exclude,
// breaking ties by stable instance id. If the best score is 0, it signals
// ErrNoEligibleLeader.
func Elect(candidates []Candidate, exclude map[string]bool) (Score, error) {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if exclude != nil && exclude[c.InstanceID] {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ti, tj := total(eligible[i]), total(eligible[j])
		if ti != tj {
			return ti > tj
		}
		return eligible[i].InstanceID < eligible[j].InstanceID
	})

	if len(eligible) == 0 {
		return Score{}, errs.ErrNoEligibleLeader
	}

	best := eligible[0]
	bestTotal := total(best)
	if bestTotal <= 0 {
		return Score{}, errs.ErrNoEligibleLeader
	}

	return Score{
		InstanceID:     best.InstanceID,
		Total:          bestTotal,
		LatencyMS:      best.LatencyMS,
		UptimeSeconds:  best.UptimeSeconds,
		ReplicationLag: best.ReplicationLag,
		CrashCount:     best.CrashCount,
	}, nil
}

// CandidatesFromSnapshot adapts a topology snapshot plus per-instance
// health records into SEER's Candidate view over the followers (the
// primary is never an election candidate).
func CandidatesFromSnapshot(snapshot types.TopologySnapshot, health map[string]types.HealthRecord) []Candidate {
	primaryTS := int64(0)
	if snapshot.Primary != nil {
		if rec, ok := health[snapshot.Primary.ID]; ok {
			primaryTS = rec.LastAppliedTimestamp
		}
	}

	candidates := make([]Candidate, 0, len(snapshot.Followers))
	for _, f := range snapshot.Followers {
		rec, ok := health[f.ID]
		if !ok {
			candidates = append(candidates, Candidate{InstanceID: f.ID, Healthy: false})
			continue
		}
		candidates = append(candidates, Candidate{
			InstanceID:     f.ID,
			Healthy:        rec.Healthy,
			LatencyMS:      rec.LatencyMS,
			UptimeSeconds:  rec.UptimeSeconds,
			CrashCount:     rec.CrashCount,
			ReplicationLag: rec.Lag(primaryTS),
		})
	}
	return candidates
}
