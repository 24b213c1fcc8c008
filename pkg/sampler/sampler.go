// Package sampler implements the Metrics Sampler background task: a
// single loop that probes every known instance on a fixed period and
// publishes a consistent health snapshot. Each round fans out over
// golang.org/x/sync/errgroup and pre-checks TCP reachability with
// pkg/health before attempting the heavier SQL-level probe.
package sampler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/quorum/pkg/health"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/topology"
	"github.com/cuemby/quorum/pkg/types"
)

// UnhealthyLatencyMS is the default latency threshold above which an
// instance is considered unhealthy.
const UnhealthyLatencyMS = 5000

// sentinelLatencyMS is the latency recorded for an instance whose probe
// failed outright (connect or query error), always above the unhealthy
// threshold.
const sentinelLatencyMS = 60000

// Config configures one sampler's background loop.
type Config struct {
	Period              time.Duration
	UnhealthyLatencyMS  int64
	ProbeTimeout        time.Duration
}

// DefaultConfig returns the sampler's enumerated defaults.
func DefaultConfig() Config {
	return Config{
		Period:             5 * time.Second,
		UnhealthyLatencyMS: UnhealthyLatencyMS,
		ProbeTimeout:       5 * time.Second,
	}
}

// Prober is the subset of *dbconn.DB the sampler needs, narrowed to an
// interface so the probe loop can be exercised against a fake in tests.
type Prober interface {
	Probe(ctx context.Context) error
	LastAppliedTimestamp(ctx context.Context) (int64, error)
	TableTimestamps(ctx context.Context) (map[string]int64, error)
}

// StatusSource lets the sampler discover who is primary without
// depending on pkg/failover directly, so the package can be deployed
// standalone (cmd/samplerd) or co-located with the coordinator.
type StatusSource interface {
	Primary() *types.Instance
}

// Snapshot is the sampler's published view, read under Sampler.mu.
type Snapshot struct {
	Records           map[string]types.HealthRecord
	MasterTimestamp   int64
	TakenAt           time.Time
}

// Sampler owns the health records for a fixed instance set and
// refreshes them on a ticker.
type Sampler struct {
	instances []*types.Instance
	conns     map[string]Prober
	status    StatusSource
	cfg       Config

	mu      sync.RWMutex
	records map[string]types.HealthRecord
	lastMasterTS int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Sampler over the given instances, each already connected.
func New(instances []*types.Instance, conns map[string]Prober, status StatusSource, cfg Config) *Sampler {
	records := make(map[string]types.HealthRecord, len(instances))
	now := time.Now()
	for _, inst := range instances {
		records[inst.ID] = types.HealthRecord{
			InstanceID:      inst.ID,
			TableTimestamps: map[string]int64{},
			Healthy:         false,
		}.WithTransitionAnchor(now)
	}

	return &Sampler{
		instances: instances,
		conns:     conns,
		status:    status,
		cfg:       cfg,
		records:   records,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background sampling loop.
func (s *Sampler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the background loop and waits for the in-flight round to
// finish.
func (s *Sampler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sampler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	s.runRound(context.Background())
	for {
		select {
		case <-ticker.C:
			s.runRound(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// runRound probes every instance in parallel and publishes the resulting
// snapshot.
func (s *Sampler) runRound(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SamplerProbeDuration)

	results := make(map[string]types.HealthRecord, len(s.instances))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range s.instances {
		inst := inst
		g.Go(func() error {
			rec := s.probe(gctx, inst)
			mu.Lock()
			results[inst.ID] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // probe errors are captured per-instance, never fatal to the round

	masterTS := s.resolveMasterTimestamp(results)

	s.mu.Lock()
	s.records = results
	s.lastMasterTS = masterTS
	s.mu.Unlock()

	for id, rec := range results {
		metrics.SamplerLatencyMS.WithLabelValues(id).Set(float64(rec.LatencyMS))
		metrics.SamplerReplicationLag.WithLabelValues(id).Set(float64(rec.Lag(masterTS)))
		metrics.SamplerUptimeSeconds.WithLabelValues(id).Set(rec.UptimeSeconds)
		metrics.SamplerCrashCount.WithLabelValues(id).Set(float64(rec.CrashCount))
		if rec.Healthy {
			metrics.SamplerHealthy.WithLabelValues(id).Set(1)
		} else {
			metrics.SamplerHealthy.WithLabelValues(id).Set(0)
		}
	}
}

// probe measures one instance's round trip and derives its health edge.
func (s *Sampler) probe(ctx context.Context, inst *types.Instance) types.HealthRecord {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	s.mu.RLock()
	prev := s.records[inst.ID]
	s.mu.RUnlock()

	start := time.Now()
	conn, ok := s.conns[inst.ID]
	var latencyMS int64
	var lastApplied int64
	var tableTS map[string]int64
	healthy := false

	if !ok {
		latencyMS = sentinelLatencyMS
	} else if inst.Addr != "" && !health.NewTCPChecker(inst.Addr).WithTimeout(s.cfg.ProbeTimeout).Check(probeCtx).Healthy {
		latencyMS = sentinelLatencyMS
		log.WithInstanceID(log.WithComponent("sampler"), inst.ID).Warn().Msg("instance unreachable")
	} else if err := conn.Probe(probeCtx); err != nil {
		latencyMS = sentinelLatencyMS
		log.WithInstanceID(log.WithComponent("sampler"), inst.ID).Warn().Err(err).Msg("probe failed")
	} else {
		lastApplied, _ = conn.LastAppliedTimestamp(probeCtx)
		tableTS, _ = conn.TableTimestamps(probeCtx)
		latencyMS = time.Since(start).Milliseconds()
		healthy = latencyMS < s.cfg.UnhealthyLatencyMS
	}

	anchor := prev.TransitionAnchor()
	if anchor.IsZero() {
		anchor = time.Now()
	}
	crashCount := prev.CrashCount
	uptime := prev.UptimeSeconds

	if prev.Healthy && !healthy {
		crashCount++
		anchor = time.Now()
		uptime = 0
	} else if !prev.Healthy && healthy {
		anchor = time.Now()
		uptime = 0
	} else if healthy {
		uptime = time.Since(anchor).Seconds()
	}

	if tableTS == nil {
		tableTS = prev.TableTimestamps
	}
	if tableTS == nil {
		tableTS = map[string]int64{}
	}
	if !healthy {
		lastApplied = prev.LastAppliedTimestamp
	}

	rec := types.HealthRecord{
		InstanceID:           inst.ID,
		LatencyMS:            latencyMS,
		LastAppliedTimestamp: lastApplied,
		TableTimestamps:      tableTS,
		UptimeSeconds:        uptime,
		CrashCount:           crashCount,
		Healthy:              healthy,
	}
	return rec.WithTransitionAnchor(anchor)
}

// resolveMasterTimestamp reads the live primary's last_applied_timestamp
// if known, else falls back to the maximum observed across instances
// (the stop/promote transition window).
func (s *Sampler) resolveMasterTimestamp(results map[string]types.HealthRecord) int64 {
	if s.status != nil {
		if primary := s.status.Primary(); primary != nil {
			if rec, ok := results[primary.ID]; ok && rec.LastAppliedTimestamp > 0 {
				return rec.LastAppliedTimestamp
			}
		}
	}

	var max int64
	for _, rec := range results {
		if rec.LastAppliedTimestamp > max {
			max = rec.LastAppliedTimestamp
		}
	}
	return max
}

// Snapshot returns a consistent, independently-owned copy of the current
// health records.
func (s *Sampler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make(map[string]types.HealthRecord, len(s.records))
	for id, rec := range s.records {
		records[id] = rec.Clone()
	}
	return Snapshot{
		Records:         records,
		MasterTimestamp: s.lastMasterTS,
		TakenAt:         time.Now(),
	}
}

// staticStatusSource adapts a fixed *types.Instance to StatusSource, used
// when the sampler is co-located with a topology that has not yet
// elected a primary or is being exercised in isolation.
type staticStatusSource struct{ primary *types.Instance }

func (s staticStatusSource) Primary() *types.Instance { return s.primary }

// StaticStatus wraps a fixed primary instance as a StatusSource.
func StaticStatus(primary *types.Instance) StatusSource { return staticStatusSource{primary} }

// TopologyStatus adapts a *topology.Topology to StatusSource.
func TopologyStatus(t *topology.Topology) StatusSource { return topologyStatusSource{t} }

type topologyStatusSource struct{ t *topology.Topology }

func (s topologyStatusSource) Primary() *types.Instance { return s.t.Primary() }

// RecordsView adapts a *Sampler to pkg/write and pkg/read's HealthSource
// interface, which only needs the bare record map, not the full
// Snapshot envelope.
type RecordsView struct{ *Sampler }

func (v RecordsView) Snapshot() map[string]types.HealthRecord {
	return v.Sampler.Snapshot().Records
}
