// Package cabinet implements dynamically weighted quorum selection. It
// is a pure function of a health snapshot, shaped like the repository's
// other stateless scoring utilities (no background state, no locks).
package cabinet

import (
	"math"
	"sort"

	"github.com/cuemby/quorum/pkg/errs"
	"github.com/cuemby/quorum/pkg/types"
)

// Member is one candidate's health view as Cabinet needs it.
type Member struct {
	InstanceID        string
	Healthy           bool
	LatencyMS         int64
	ReplicationLag    int64
}

// Result is Cabinet's output: an ordered quorum plus sizing context.
type Result struct {
	Quorum        []string
	QuorumSize    int
	TotalReplicas int
}

// Weight computes the Cabinet weight for one member: 0 if unhealthy, else
// 1/(latency_ms + replication_lag + 1).
func Weight(m Member) float64 {
	if !m.Healthy {
		return 0
	}
	return 1.0 / float64(m.LatencyMS+m.ReplicationLag+1)
}

// Select returns the top ⌈(totalInstances+1)/2⌉ members by weight
// descending, ties broken by stable instance id order. totalInstances is
// N in the majority-size formula: the full cluster size including the primary,
// which the Cabinet itself excludes from its own candidate pool.
func Select(members []Member, totalInstances int) (Result, error) {
	quorumSize := int(math.Ceil(float64(totalInstances+1) / 2))

	ranked := make([]Member, len(members))
	copy(ranked, members)
	sort.SliceStable(ranked, func(i, j int) bool {
		wi, wj := Weight(ranked[i]), Weight(ranked[j])
		if wi != wj {
			return wi > wj
		}
		return ranked[i].InstanceID < ranked[j].InstanceID
	})

	if quorumSize > len(ranked) {
		quorumSize = len(ranked)
	}

	top := ranked[:quorumSize]
	anyHealthy := false
	quorum := make([]string, 0, len(top))
	for _, m := range top {
		if m.Healthy {
			anyHealthy = true
		}
		quorum = append(quorum, m.InstanceID)
	}

	if !anyHealthy {
		return Result{}, errs.ErrNoHealthyQuorum
	}

	return Result{
		Quorum:        quorum,
		QuorumSize:    quorumSize,
		TotalReplicas: len(ranked),
	}, nil
}

// MembersFromSnapshot adapts a topology snapshot plus per-instance health
// records into Cabinet's Member view, excluding the primary (the
// Open Question 4).
func MembersFromSnapshot(snapshot types.TopologySnapshot, health map[string]types.HealthRecord) []Member {
	members := make([]Member, 0, len(snapshot.Followers))
	primaryTS := int64(0)
	if snapshot.Primary != nil {
		if rec, ok := health[snapshot.Primary.ID]; ok {
			primaryTS = rec.LastAppliedTimestamp
		}
	}
	for _, f := range snapshot.Followers {
		rec, ok := health[f.ID]
		if !ok {
			members = append(members, Member{InstanceID: f.ID, Healthy: false})
			continue
		}
		members = append(members, Member{
			InstanceID:     f.ID,
			Healthy:        rec.Healthy,
			LatencyMS:      rec.LatencyMS,
			ReplicationLag: rec.Lag(primaryTS),
		})
	}
	return members
}
