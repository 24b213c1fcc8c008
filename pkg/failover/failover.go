// Package failover implements the six-state failover orchestrator: a
// forced-stop path, an operator-driven graceful promotion path, and a
// rejoin sub-flow for a recovered former primary, built as an explicit
// Go state machine behind a single-writer lock.
package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/quorum/pkg/containerctl"
	"github.com/cuemby/quorum/pkg/dbconn"
	"github.com/cuemby/quorum/pkg/errs"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/seer"
	"github.com/cuemby/quorum/pkg/topology"
	"github.com/cuemby/quorum/pkg/types"
)

// stateOrdinal backs the quorum_failover_state gauge.
var stateOrdinal = map[types.FailoverState]float64{
	types.StateSteady:    0,
	types.StateDetecting: 1,
	types.StateElecting:  2,
	types.StatePromoting: 3,
	types.StateRewiring:  4,
	types.StateRejoining: 5,
}

// HealthSource gives the orchestrator SEER candidate data without
// importing pkg/sampler directly.
type HealthSource interface {
	Snapshot() map[string]types.HealthRecord
}

// ConnResolver resolves an instance id to its database connection.
type ConnResolver interface {
	Conn(instanceID string) (*dbconn.DB, bool)
}

// Config tunes the election retry policy and the replication credentials
// used to provision and rewire followers.
type Config struct {
	ElectionRetries  int
	ElectionBackoff  time.Duration
	ContainerTimeout time.Duration

	// ReplicationUser/ReplicationPassword are threaded into every
	// DemoteToReplica call and into PromoteToMaster's replication-user
	// provisioning step, so the whole cluster authenticates replication
	// with the same account.
	ReplicationUser     string
	ReplicationPassword string
}

// DefaultConfig is a reasonable set of retry defaults; the exact bound
// is left unspecified beyond "bounded attempts with backoff".
func DefaultConfig() Config {
	return Config{
		ElectionRetries:     3,
		ElectionBackoff:     500 * time.Millisecond,
		ContainerTimeout:    30 * time.Second,
		ReplicationUser:     "repl",
		ReplicationPassword: "",
	}
}

// Orchestrator drives the failover state machine. All topology mutation
// is serialized behind mu, the single-writer failover lock.
type Orchestrator struct {
	mu sync.Mutex

	topo   *topology.Topology
	conns  ConnResolver
	health HealthSource
	ctl    containerctl.Controller
	cfg    Config

	state types.FailoverState
}

// New builds a failover Orchestrator.
func New(topo *topology.Topology, conns ConnResolver, health HealthSource, ctl containerctl.Controller, cfg Config) *Orchestrator {
	return &Orchestrator{topo: topo, conns: conns, health: health, ctl: ctl, cfg: cfg, state: types.StateSteady}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() types.FailoverState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s types.FailoverState) {
	o.state = s
	metrics.FailoverState.Set(stateOrdinal[s])
}

// TriggerFailover runs the full STEADY->DETECTING->ELECTING->PROMOTING->
// REWIRING->STEADY sequence, electing a replacement itself (used by the
// Write Coordinator on primary-loss detection, and by the
// /admin/stop-master operator endpoint).
func (o *Orchestrator) TriggerFailover(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	o.setState(types.StateDetecting)

	candidate, err := o.elect(ctx, nil)
	if err != nil {
		o.setState(types.StateSteady)
		metrics.FailoverTotal.WithLabelValues("election_exhausted").Inc()
		return err
	}

	if err := o.promote(ctx, candidate); err != nil {
		o.setState(types.StateSteady)
		metrics.FailoverTotal.WithLabelValues("promotion_failed").Inc()
		return err
	}

	o.rewire(ctx, candidate)
	o.setState(types.StateSteady)
	metrics.FailoverTotal.WithLabelValues("success").Inc()
	metrics.FailoverDuration.Observe(time.Since(start).Seconds())
	return nil
}

// PromoteLeader runs the operator-driven graceful path: promote the
// named candidate, demote the old primary, rewire survivors.
func (o *Orchestrator) PromoteLeader(ctx context.Context, candidateID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	o.setState(types.StateElecting)

	snapshot := o.topo.Snapshot()
	var candidate *types.Instance
	for _, f := range snapshot.Followers {
		if f.ID == candidateID {
			candidate = f
			break
		}
	}
	if candidate == nil {
		o.setState(types.StateSteady)
		return fmt.Errorf("%w: candidate %s not found among followers", errs.ErrNoEligibleLeader, candidateID)
	}

	if err := o.promote(ctx, candidate); err != nil {
		o.setState(types.StateSteady)
		metrics.FailoverTotal.WithLabelValues("promotion_failed").Inc()
		return err
	}

	o.rewireWithOldPrimaryOnline(ctx, snapshot.Primary, candidate)
	o.setState(types.StateSteady)
	metrics.FailoverTotal.WithLabelValues("success").Inc()
	metrics.FailoverDuration.Observe(time.Since(start).Seconds())
	return nil
}

// elect calls SEER with bounded retries and backoff, aborting to STEADY
// on exhaustion.
func (o *Orchestrator) elect(ctx context.Context, exclude map[string]bool) (*types.Instance, error) {
	o.setState(types.StateElecting)
	snapshot := o.topo.Snapshot()
	candidates := seer.CandidatesFromSnapshot(snapshot, o.health.Snapshot())

	var lastErr error
	for attempt := 0; attempt < o.cfg.ElectionRetries; attempt++ {
		score, err := seer.Elect(candidates, exclude)
		if err == nil {
			for _, f := range snapshot.Followers {
				if f.ID == score.InstanceID {
					return f, nil
				}
			}
			lastErr = fmt.Errorf("elected candidate %s not present in topology", score.InstanceID)
		} else {
			lastErr = err
		}
		metrics.SeerNoEligibleLeaderTotal.Inc()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.cfg.ElectionBackoff):
		}
	}
	return nil, lastErr
}

// promote issues the promotion command sequence to the chosen candidate:
// stop replication, clear replication config, drop read-only, ensure the
// replication user exists.
func (o *Orchestrator) promote(ctx context.Context, candidate *types.Instance) error {
	o.setState(types.StatePromoting)

	conn, ok := o.conns.Conn(candidate.ID)
	if !ok {
		return fmt.Errorf("%w: no connection to candidate %s", errs.ErrPromotionFailed, candidate.ID)
	}
	if err := conn.PromoteToMaster(ctx, o.cfg.ReplicationUser, o.cfg.ReplicationPassword); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrPromotionFailed, err)
	}
	log.WithInstanceID(log.WithComponent("failover"), candidate.ID).Info().Msg("promoted candidate to primary")
	return nil
}

// rewire atomically swaps the topology (the forced stop_master path: the
// old primary is left offline, pending an operator rejoin) then
// reconfigures survivors to stream from the new primary.
func (o *Orchestrator) rewire(ctx context.Context, newPrimary *types.Instance) {
	o.setState(types.StateRewiring)

	snapshot := o.topo.Snapshot()
	remaining := make([]*types.Instance, 0, len(snapshot.Followers))
	for _, f := range snapshot.Followers {
		if f.ID != newPrimary.ID {
			remaining = append(remaining, f)
		}
	}

	oldPrimaryID := ""
	if snapshot.Primary != nil {
		oldPrimaryID = snapshot.Primary.ID
	}
	o.topo.PromoteCAS(oldPrimaryID, newPrimary, remaining)

	o.reconfigureFollowers(ctx, newPrimary, remaining)
}

// rewireWithOldPrimaryOnline is the graceful-path rewire: the old
// primary is demoted and kept as a follower rather than left offline.
func (o *Orchestrator) rewireWithOldPrimaryOnline(ctx context.Context, oldPrimary, newPrimary *types.Instance) {
	o.setState(types.StateRewiring)

	snapshot := o.topo.Snapshot()
	remaining := make([]*types.Instance, 0, len(snapshot.Followers)+1)
	for _, f := range snapshot.Followers {
		if f.ID != newPrimary.ID {
			remaining = append(remaining, f)
		}
	}

	if oldPrimary != nil {
		if conn, ok := o.conns.Conn(oldPrimary.ID); ok {
			if err := conn.DemoteToReplica(ctx, serverIDFor(oldPrimary), newPrimary.Addr, 3306, o.cfg.ReplicationUser, o.cfg.ReplicationPassword); err != nil {
				log.WithInstanceID(log.WithComponent("failover"), oldPrimary.ID).Error().Err(err).Msg("failed to demote old primary")
			}
		}
		remaining = append(remaining, oldPrimary)
	}

	oldID := ""
	if oldPrimary != nil {
		oldID = oldPrimary.ID
	}
	o.topo.PromoteCAS(oldID, newPrimary, remaining)

	o.reconfigureFollowers(ctx, newPrimary, remaining)
}

// reconfigureFollowers points every surviving follower at the new
// primary. Per-follower failures are logged, not rolled back: rewire
// failure on individual followers leaves the cluster writable and the
// follower marked for retry by the operator flow.
func (o *Orchestrator) reconfigureFollowers(ctx context.Context, newPrimary *types.Instance, followers []*types.Instance) {
	for _, f := range followers {
		conn, ok := o.conns.Conn(f.ID)
		if !ok {
			log.WithInstanceID(log.WithComponent("failover"), f.ID).Warn().Msg("no connection, needs_reconfigure")
			continue
		}
		if err := conn.DemoteToReplica(ctx, serverIDFor(f), newPrimary.Addr, 3306, o.cfg.ReplicationUser, o.cfg.ReplicationPassword); err != nil {
			log.WithInstanceID(log.WithComponent("failover"), f.ID).Error().Err(err).Msg("rewire failed, needs_reconfigure")
			metrics.FailoverTotal.WithLabelValues("rewire_failed_follower").Inc()
		}
	}
}

// Rejoin runs the REJOINING sub-flow: start the former primary's
// container, wait until the container reports running, demote it, and add it
// back to the followers list. Operator-driven.
func (o *Orchestrator) Rejoin(ctx context.Context, instance *types.Instance) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.setState(types.StateRejoining)
	defer o.setState(types.StateSteady)

	if o.ctl != nil {
		if err := o.ctl.Start(ctx, instance.ContainerID); err != nil {
			return fmt.Errorf("failover: start instance %s: %w", instance.ID, err)
		}
		if err := o.waitUntilRunning(ctx, instance.ContainerID); err != nil {
			return fmt.Errorf("failover: instance %s did not come up: %w", instance.ID, err)
		}
	}

	primary := o.topo.Primary()
	if primary == nil {
		return errs.ErrPrimaryUnavailable
	}

	conn, ok := o.conns.Conn(instance.ID)
	if !ok {
		return fmt.Errorf("failover: no connection to rejoining instance %s", instance.ID)
	}
	if err := conn.DemoteToReplica(ctx, serverIDFor(instance), primary.Addr, 3306, o.cfg.ReplicationUser, o.cfg.ReplicationPassword); err != nil {
		return fmt.Errorf("failover: configure replica %s: %w", instance.ID, err)
	}

	o.topo.Rejoin(instance)
	log.WithInstanceID(log.WithComponent("failover"), instance.ID).Info().Msg("rejoined as follower")
	return nil
}

// StopMasterOnly stops the primary's container without electing a
// replacement, used for fault-injection testing.
func (o *Orchestrator) StopMasterOnly(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	primary := o.topo.Primary()
	if primary == nil {
		return errs.ErrPrimaryUnavailable
	}
	if o.ctl == nil {
		return fmt.Errorf("failover: no container controller configured")
	}
	return o.ctl.Stop(ctx, primary.ContainerID, o.cfg.ContainerTimeout)
}

func (o *Orchestrator) waitUntilRunning(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(120 * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if running, err := o.ctl.IsRunning(ctx, containerID); err == nil && running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return fmt.Errorf("container %s not running after 120s", containerID)
}

// serverIDFor derives a stable MySQL server_id from an instance id.
// Administrative and deterministic, not cryptographic.
func serverIDFor(inst *types.Instance) int {
	h := 0
	for _, c := range inst.ID {
		h = h*31 + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h%100000 + 1
}
