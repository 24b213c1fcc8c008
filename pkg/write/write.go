// Package write implements the Write Coordinator's seven-step apply
// pipeline.
package write

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/quorum/pkg/allocator"
	"github.com/cuemby/quorum/pkg/cabinet"
	"github.com/cuemby/quorum/pkg/dbconn"
	"github.com/cuemby/quorum/pkg/errs"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/router"
	"github.com/cuemby/quorum/pkg/topology"
	"github.com/cuemby/quorum/pkg/types"
)

// CatchupDeadline and CatchupPoll are the STRONG catch-up
// defaults.
const (
	CatchupDeadline = 5 * time.Second
	CatchupPoll     = 50 * time.Millisecond
)

// Failover is the subset of the orchestrator the write path needs: a
// single entry point invoked when the primary appears lost.
type Failover interface {
	TriggerFailover(ctx context.Context) error
}

// HealthSource lets the coordinator read each follower's last-applied
// timestamp during STRONG catch-up polling without importing pkg/sampler
// directly, avoiding a dependency cycle.
type HealthSource interface {
	Snapshot() map[string]types.HealthRecord
}

// Coordinator is the Write Coordinator.
type Coordinator struct {
	topo      *topology.Topology
	conns     ConnResolver
	allocator allocator.Client
	failover  Failover
	health    HealthSource
}

// ConnResolver resolves an instance id to its database connection.
type ConnResolver interface {
	Conn(instanceID string) (*dbconn.DB, bool)
}

// ConnMap is the simplest ConnResolver: a fixed instance id -> connection
// map, populated once at startup by cmd/coordinatord.
type ConnMap map[string]*dbconn.DB

func (m ConnMap) Conn(instanceID string) (*dbconn.DB, bool) {
	db, ok := m[instanceID]
	return db, ok
}

// New builds a Write Coordinator.
func New(topo *topology.Topology, conns ConnResolver, alloc allocator.Client, fo Failover, health HealthSource) *Coordinator {
	return &Coordinator{topo: topo, conns: conns, allocator: alloc, failover: fo, health: health}
}

// Result is the write path's response contract.
type Result struct {
	Success         bool
	Timestamp       int64
	RowsAffected    int64
	ExecutedOn      string
	Latency         time.Duration
	QuorumAchieved  *bool
	ReplicaCaughtUp *bool
}

// Execute runs the seven-step write algorithm.
func (c *Coordinator) Execute(ctx context.Context, statement string, consistency types.Consistency) (Result, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.WriteLatency, string(consistency))
	}()

	// Step 1: classify.
	classified, err := router.Classify(statement)
	if err != nil {
		metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "invalid").Inc()
		return Result{}, err
	}

	// Step 2: timestamp.
	ts, err := c.allocator.Next(ctx)
	if err != nil {
		metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "allocator_unavailable").Inc()
		return Result{}, err
	}

	// Step 3: Cabinet quorum, STRONG only.
	var quorum cabinet.Result
	if consistency == types.STRONG {
		quorum, err = c.selectQuorum()
		if err != nil {
			metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "no_healthy_quorum").Inc()
			return Result{}, err
		}
	}

	// Step 4 (+5 on primary loss).
	primary := c.topo.Primary()
	if primary == nil {
		return Result{}, errs.ErrPrimaryUnavailable
	}

	rowsAffected, executedOn, err := c.applyOnPrimary(ctx, primary, classified, ts)
	if err != nil && isPrimaryLossSymptom(err) {
		log.WithComponent("write").Warn().Err(err).Str("primary", primary.ID).Msg("primary apply failed, triggering failover")
		if c.failover == nil {
			metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "primary_unavailable").Inc()
			return Result{}, fmt.Errorf("%w: %v", errs.ErrPrimaryUnavailable, err)
		}
		if foErr := c.failover.TriggerFailover(ctx); foErr != nil {
			metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "primary_unavailable").Inc()
			return Result{}, fmt.Errorf("%w: failover: %v", errs.ErrPrimaryUnavailable, foErr)
		}
		primary = c.topo.Primary()
		if primary == nil {
			metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "primary_unavailable").Inc()
			return Result{}, errs.ErrPrimaryUnavailable
		}
		rowsAffected, executedOn, err = c.applyOnPrimary(ctx, primary, classified, ts)
		if err != nil {
			metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "primary_unavailable").Inc()
			return Result{}, fmt.Errorf("%w: %v", errs.ErrPrimaryUnavailable, err)
		}
	} else if err != nil {
		metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "execution_error").Inc()
		return Result{}, fmt.Errorf("%w: %v", errs.ErrExecutionError, err)
	}

	result := Result{
		Success:      true,
		Timestamp:    ts,
		RowsAffected: rowsAffected,
		ExecutedOn:   executedOn,
		Latency:      timer.Duration(),
	}

	// Step 6: EVENTUAL returns immediately.
	if consistency == types.EVENTUAL {
		metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "success").Inc()
		return result, nil
	}

	// Step 7: STRONG catch-up wait.
	achieved := c.waitForCatchup(ctx, quorum.Quorum, ts)
	result.QuorumAchieved = &achieved
	caughtUp := achieved
	result.ReplicaCaughtUp = &caughtUp
	if !achieved {
		metrics.QuorumNotAchievedTotal.Inc()
	}
	metrics.WriteRequestsTotal.WithLabelValues(string(consistency), "success").Inc()
	return result, nil
}

func (c *Coordinator) selectQuorum() (cabinet.Result, error) {
	snapshot := c.topo.Snapshot()
	members := cabinet.MembersFromSnapshot(snapshot, c.health.Snapshot())
	result, err := cabinet.Select(members, snapshot.Total())
	if err != nil {
		metrics.CabinetNoHealthyQuorumTotal.Inc()
	}
	return result, err
}

func (c *Coordinator) applyOnPrimary(ctx context.Context, primary *types.Instance, classified router.Classified, ts int64) (int64, string, error) {
	conn, ok := c.conns.Conn(primary.ID)
	if !ok {
		return 0, "", fmt.Errorf("no connection to primary %s", primary.ID)
	}
	rows, err := conn.ApplyWrite(ctx, classified.Statement, classified.Table, ts)
	if err != nil {
		return 0, "", err
	}
	return rows, primary.ID, nil
}

// waitForCatchup polls every member of the quorum until all report
// last_applied_timestamp >= t or the deadline elapses.
func (c *Coordinator) waitForCatchup(ctx context.Context, quorum []string, t int64) bool {
	deadline := time.Now().Add(CatchupDeadline)
	ticker := time.NewTicker(CatchupPoll)
	defer ticker.Stop()

	for {
		if c.allCaughtUp(quorum, t) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) allCaughtUp(quorum []string, t int64) bool {
	snapshot := c.health.Snapshot()
	for _, id := range quorum {
		rec, ok := snapshot[id]
		if !ok || rec.LastAppliedTimestamp < t {
			return false
		}
	}
	return true
}

// isPrimaryLossSymptom reports whether err indicates the primary is
// unreachable or read-only, the trigger for step 5's failover.
func isPrimaryLossSymptom(err error) bool {
	if err == nil {
		return false
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, symptom := range []string{"connection refused", "read-only", "broken pipe", "no connection", "i/o timeout", "EOF"} {
		if strings.Contains(msg, symptom) {
			return true
		}
	}
	return false
}
