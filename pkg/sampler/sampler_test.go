package sampler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quorum/pkg/types"
)

type fakeProber struct {
	fail        bool
	lastApplied int64
	tableTS     map[string]int64
	delay       time.Duration
}

func (f *fakeProber) Probe(ctx context.Context) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeProber) LastAppliedTimestamp(ctx context.Context) (int64, error) {
	return f.lastApplied, nil
}

func (f *fakeProber) TableTimestamps(ctx context.Context) (map[string]int64, error) {
	return f.tableTS, nil
}

// openAddr starts a listener that stays open for the life of the test,
// standing in for a reachable MySQL instance's TCP port.
func openAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

// closedAddr returns an address nothing is listening on, standing in
// for an instance whose host is down at the TCP level.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// testInstances returns a 3-instance roster whose addresses all point
// at one open local listener, so the sampler's TCP pre-check passes
// and each probe exercises the fakeProber behind it.
func testInstances(t *testing.T) []*types.Instance {
	addr := openAddr(t)
	return []*types.Instance{
		{ID: "primary", Addr: addr},
		{ID: "f1", Addr: addr},
		{ID: "f2", Addr: addr},
	}
}

func TestSamplerHealthyProbePublishesRecord(t *testing.T) {
	conns := map[string]Prober{
		"primary": &fakeProber{lastApplied: 100, tableTS: map[string]int64{"orders": 100}},
		"f1":      &fakeProber{lastApplied: 90, tableTS: map[string]int64{"orders": 90}},
		"f2":      &fakeProber{lastApplied: 100, tableTS: map[string]int64{"orders": 100}},
	}
	s := New(testInstances(t), conns, StaticStatus(&types.Instance{ID: "primary"}), DefaultConfig())
	s.runRound(context.Background())

	snap := s.Snapshot()
	assert.True(t, snap.Records["primary"].Healthy)
	assert.Equal(t, int64(100), snap.MasterTimestamp)
	assert.Equal(t, int64(10), snap.Records["f1"].Lag(snap.MasterTimestamp))
}

func TestSamplerFailedProbeMarksUnhealthy(t *testing.T) {
	conns := map[string]Prober{
		"primary": &fakeProber{lastApplied: 5},
		"f1":      &fakeProber{fail: true},
		"f2":      &fakeProber{lastApplied: 5},
	}
	s := New(testInstances(t), conns, StaticStatus(&types.Instance{ID: "primary"}), DefaultConfig())
	s.runRound(context.Background())

	snap := s.Snapshot()
	assert.False(t, snap.Records["f1"].Healthy)
	assert.Equal(t, int64(sentinelLatencyMS), snap.Records["f1"].LatencyMS)
}

func TestSamplerUnreachableTCPMarksUnhealthyDespiteHealthyProbe(t *testing.T) {
	instances := testInstances(t)
	for _, inst := range instances {
		if inst.ID == "f1" {
			inst.Addr = closedAddr(t)
		}
	}
	conns := map[string]Prober{
		"primary": &fakeProber{lastApplied: 1},
		"f1":      &fakeProber{lastApplied: 1}, // would report healthy if the TCP gate were skipped
		"f2":      &fakeProber{lastApplied: 1},
	}
	s := New(instances, conns, StaticStatus(&types.Instance{ID: "primary"}), DefaultConfig())
	s.runRound(context.Background())

	rec := s.Snapshot().Records["f1"]
	assert.False(t, rec.Healthy)
	assert.Equal(t, int64(sentinelLatencyMS), rec.LatencyMS)
}

func TestSamplerCrashCountIncrementsOnHealthyToUnhealthy(t *testing.T) {
	conns := map[string]Prober{
		"primary": &fakeProber{lastApplied: 1},
		"f1":      &fakeProber{lastApplied: 1},
		"f2":      &fakeProber{lastApplied: 1},
	}
	s := New(testInstances(t), conns, StaticStatus(&types.Instance{ID: "primary"}), DefaultConfig())
	s.runRound(context.Background())
	assert.True(t, s.Snapshot().Records["f1"].Healthy)

	conns["f1"] = &fakeProber{fail: true}
	s.runRound(context.Background())
	rec := s.Snapshot().Records["f1"]
	assert.False(t, rec.Healthy)
	assert.Equal(t, int64(1), rec.CrashCount)

	conns["f1"] = &fakeProber{lastApplied: 1}
	s.runRound(context.Background())
	rec = s.Snapshot().Records["f1"]
	assert.True(t, rec.Healthy)
	assert.Equal(t, int64(1), rec.CrashCount)
}

func TestSamplerFallsBackToMaxObservedTimestamp(t *testing.T) {
	conns := map[string]Prober{
		"primary": &fakeProber{lastApplied: 0},
		"f1":      &fakeProber{lastApplied: 42},
		"f2":      &fakeProber{lastApplied: 7},
	}
	s := New(testInstances(t), conns, StaticStatus(&types.Instance{ID: "primary"}), DefaultConfig())
	s.runRound(context.Background())

	assert.Equal(t, int64(42), s.Snapshot().MasterTimestamp)
}

func TestSamplerMissingConnectionTreatedUnhealthy(t *testing.T) {
	conns := map[string]Prober{
		"primary": &fakeProber{lastApplied: 1},
		"f1":      &fakeProber{lastApplied: 1},
	}
	s := New(testInstances(t), conns, StaticStatus(&types.Instance{ID: "primary"}), DefaultConfig())
	s.runRound(context.Background())

	assert.False(t, s.Snapshot().Records["f2"].Healthy)
}

func TestSamplerStartStop(t *testing.T) {
	conns := map[string]Prober{
		"primary": &fakeProber{lastApplied: 1},
		"f1":      &fakeProber{lastApplied: 1},
		"f2":      &fakeProber{lastApplied: 1},
	}
	cfg := DefaultConfig()
	cfg.Period = 10 * time.Millisecond
	s := New(testInstances(t), conns, StaticStatus(&types.Instance{ID: "primary"}), cfg)
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.NotEmpty(t, s.Snapshot().Records)
}
