// Package topology owns the cluster's single piece of shared mutable
// state: the current primary and its ordered followers. It is modeled
// as a typed value object behind one mutex, with a snapshot read and a
// compare-and-swap promote, to avoid split locks across callers that
// each need a consistent view of primary and followers together.
package topology

import (
	"sort"
	"sync"

	"github.com/cuemby/quorum/pkg/types"
)

// Topology is the cluster's primary + followers, guarded by a single
// lock. All read-modify-write access goes through it; there is no nested
// locking.
type Topology struct {
	mu        sync.RWMutex
	primary   *types.Instance
	followers []*types.Instance
}

// New builds a Topology from a bootstrap primary and follower set.
func New(primary *types.Instance, followers []*types.Instance) *Topology {
	t := &Topology{
		primary:   primary,
		followers: append([]*types.Instance(nil), followers...),
	}
	sortInstances(t.followers)
	return t
}

// Snapshot returns a consistent, independently-owned copy of the topology.
func (t *Topology) Snapshot() types.TopologySnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	followers := make([]*types.Instance, len(t.followers))
	copy(followers, t.followers)
	return types.TopologySnapshot{Primary: t.primary, Followers: followers}
}

// Primary returns the current primary instance.
func (t *Topology) Primary() *types.Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.primary
}

// PromoteCAS atomically replaces the topology after a successful failover:
// the chosen candidate becomes primary and remainingFollowers replaces the
// follower list (the caller computes that list as old followers minus the
// candidate, optionally including the old primary if it is to be kept
// online pending rejoin). The swap only takes effect if the current
// primary still matches expectOldPrimaryID, guarding against a second
// concurrent promotion — the orchestrator's single-writer failover lock is
// the primary guard, this is the belt-and-suspenders check at the state
// boundary itself.
func (t *Topology) PromoteCAS(expectOldPrimaryID string, newPrimary *types.Instance, remainingFollowers []*types.Instance) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.primary == nil || t.primary.ID != expectOldPrimaryID {
		return false
	}

	t.primary = newPrimary
	t.followers = append([]*types.Instance(nil), remainingFollowers...)
	sortInstances(t.followers)
	return true
}

// Rejoin appends a former primary back to the follower set. Used by the
// REJOINING sub-flow once it has pointed the instance's replication at the
// current primary; the replication threads' status is not checked before
// the instance is added. A no-op if the instance is already a follower.
func (t *Topology) Rejoin(instance *types.Instance) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range t.followers {
		if f.ID == instance.ID {
			return
		}
	}
	t.followers = append(t.followers, instance)
	sortInstances(t.followers)
}

func sortInstances(instances []*types.Instance) {
	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].ID < instances[j].ID
	})
}
