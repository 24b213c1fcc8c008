package write

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quorum/pkg/dbconn"
	"github.com/cuemby/quorum/pkg/errs"
	"github.com/cuemby/quorum/pkg/topology"
	"github.com/cuemby/quorum/pkg/types"
)

type fakeAllocator struct {
	next int64
	err  error
}

func (f *fakeAllocator) Next(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	return f.next, nil
}

type fakeHealth struct {
	records map[string]types.HealthRecord
}

func (f *fakeHealth) Snapshot() map[string]types.HealthRecord { return f.records }

type fakeFailover struct {
	called  bool
	err     error
	onCall  func()
}

func (f *fakeFailover) TriggerFailover(ctx context.Context) error {
	f.called = true
	if f.onCall != nil {
		f.onCall()
	}
	return f.err
}

func newTestTopology() *topology.Topology {
	return topology.New(
		&types.Instance{ID: "primary"},
		[]*types.Instance{{ID: "f1"}, {ID: "f2"}},
	)
}

func TestExecuteInvalidStatementRejected(t *testing.T) {
	topo := newTestTopology()
	coord := New(topo, fakeConns{}, &fakeAllocator{}, nil, &fakeHealth{})
	_, err := coord.Execute(context.Background(), "BEGIN", types.EVENTUAL)
	assert.True(t, errors.Is(err, errs.ErrInvalidStatement))
}

func TestExecuteAllocatorUnavailablePropagates(t *testing.T) {
	topo := newTestTopology()
	coord := New(topo, fakeConns{}, &fakeAllocator{err: errs.ErrAllocatorUnavailable}, nil, &fakeHealth{})
	_, err := coord.Execute(context.Background(), "SELECT 1", types.EVENTUAL)
	assert.True(t, errors.Is(err, errs.ErrAllocatorUnavailable))
}

func TestExecuteNoPrimaryReturnsPrimaryUnavailable(t *testing.T) {
	topo := topology.New(nil, nil)
	coord := New(topo, fakeConns{}, &fakeAllocator{}, nil, &fakeHealth{})
	_, err := coord.Execute(context.Background(), "INSERT INTO orders VALUES (1)", types.EVENTUAL)
	assert.True(t, errors.Is(err, errs.ErrPrimaryUnavailable))
}

func TestWaitForCatchupSucceedsWhenAllCaughtUp(t *testing.T) {
	coord := &Coordinator{
		health: &fakeHealth{records: map[string]types.HealthRecord{
			"f1": {LastAppliedTimestamp: 10},
			"f2": {LastAppliedTimestamp: 10},
		}},
	}
	achieved := coord.waitForCatchup(context.Background(), []string{"f1", "f2"}, 10)
	require.True(t, achieved)
}

func TestAllCaughtUpFalseWhenLagging(t *testing.T) {
	coord := &Coordinator{
		health: &fakeHealth{records: map[string]types.HealthRecord{
			"f1": {LastAppliedTimestamp: 1},
		}},
	}
	assert.False(t, coord.allCaughtUp([]string{"f1"}, 10))
}

func TestIsPrimaryLossSymptom(t *testing.T) {
	assert.True(t, isPrimaryLossSymptom(errors.New("dial tcp: connection refused")))
	assert.True(t, isPrimaryLossSymptom(errors.New("Error 1290: The MySQL server is running with the --read-only option")))
	assert.False(t, isPrimaryLossSymptom(errors.New("syntax error near SELECT")))
	assert.False(t, isPrimaryLossSymptom(nil))
}

type fakeConns map[string]bool

func (fakeConns) Conn(instanceID string) (*dbconn.DB, bool) { return nil, false }
