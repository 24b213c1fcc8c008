// Package read implements the Read Coordinator.
package read

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cuemby/quorum/pkg/dbconn"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/router"
	"github.com/cuemby/quorum/pkg/topology"
	"github.com/cuemby/quorum/pkg/types"
)

// HealthSource mirrors pkg/write's interface of the same name, kept
// separate to avoid a cross-package dependency for such a small
// contract.
type HealthSource interface {
	Snapshot() map[string]types.HealthRecord
}

// ConnResolver resolves an instance id to its database connection.
type ConnResolver interface {
	Conn(instanceID string) (*dbconn.DB, bool)
}

// Coordinator is the Read Coordinator.
type Coordinator struct {
	topo   *topology.Topology
	conns  ConnResolver
	health HealthSource
}

// New builds a Read Coordinator.
func New(topo *topology.Topology, conns ConnResolver, health HealthSource) *Coordinator {
	return &Coordinator{topo: topo, conns: conns, health: health}
}

// Result is the read path's response contract.
type Result struct {
	Rows       []map[string]any
	ExecutedOn string
	Latency    time.Duration
	Level      types.Consistency
}

// Execute runs a read at the requested consistency level.
func (c *Coordinator) Execute(ctx context.Context, statement string, consistency types.Consistency) (Result, error) {
	timer := metrics.NewTimer()

	classified, err := router.Classify(statement)
	if err != nil {
		return Result{}, err
	}
	_ = classified // reads don't need the table name, only the routing decision above

	var rows []map[string]any
	var executedOn string

	if consistency == types.STRONG {
		rows, executedOn, err = c.executeStrong(ctx, statement)
	} else {
		rows, executedOn, err = c.executeEventual(ctx, statement)
	}
	if err != nil {
		metrics.ReadRequestsTotal.WithLabelValues(string(consistency), "error").Inc()
		return Result{}, err
	}

	metrics.ReadRequestsTotal.WithLabelValues(string(consistency), executedOn).Inc()
	timer.ObserveDurationVec(metrics.ReadLatency, string(consistency))

	return Result{
		Rows:       rows,
		ExecutedOn: executedOn,
		Latency:    timer.Duration(),
		Level:      consistency,
	}, nil
}

// executeStrong always hits the primary; no fallback, since followers
// cannot offer linearizable reads in a log-shipping system.
func (c *Coordinator) executeStrong(ctx context.Context, statement string) ([]map[string]any, string, error) {
	primary := c.topo.Primary()
	if primary == nil {
		return nil, "", fmt.Errorf("no primary available for STRONG read")
	}
	conn, ok := c.conns.Conn(primary.ID)
	if !ok {
		return nil, "", fmt.Errorf("no connection to primary %s", primary.ID)
	}
	rows, err := conn.ExecuteRead(ctx, statement)
	if err != nil {
		return nil, "", err
	}
	return rows, "primary", nil
}

// executeEventual picks the lowest-latency healthy follower; on failure
// it falls back to the primary once; if metrics are unavailable it falls
// back to a random follower.
func (c *Coordinator) executeEventual(ctx context.Context, statement string) ([]map[string]any, string, error) {
	snapshot := c.topo.Snapshot()

	target := c.pickFollower(snapshot)
	if target != nil {
		if conn, ok := c.conns.Conn(target.ID); ok {
			rows, err := conn.ExecuteRead(ctx, statement)
			if err == nil {
				return rows, target.ID, nil
			}
		}
	}

	if snapshot.Primary != nil {
		if conn, ok := c.conns.Conn(snapshot.Primary.ID); ok {
			rows, err := conn.ExecuteRead(ctx, statement)
			if err == nil {
				return rows, "primary", nil
			}
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no reachable instance for EVENTUAL read")
}

// pickFollower returns the lowest-latency healthy follower from the
// current health snapshot, or a random follower if metrics are
// unavailable, or nil if there are no followers at all.
func (c *Coordinator) pickFollower(snapshot types.TopologySnapshot) *types.Instance {
	if len(snapshot.Followers) == 0 {
		return nil
	}

	if c.health == nil {
		return snapshot.Followers[rand.Intn(len(snapshot.Followers))]
	}

	health := c.health.Snapshot()
	if len(health) == 0 {
		return snapshot.Followers[rand.Intn(len(snapshot.Followers))]
	}

	var best *types.Instance
	var bestLatency int64
	for _, f := range snapshot.Followers {
		rec, ok := health[f.ID]
		if !ok || !rec.Healthy {
			continue
		}
		if best == nil || rec.LatencyMS < bestLatency {
			best = f
			bestLatency = rec.LatencyMS
		}
	}
	if best != nil {
		return best
	}
	return snapshot.Followers[rand.Intn(len(snapshot.Followers))]
}
