package cabinet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/quorum/pkg/errs"
)

func TestSelectQuorumSizeIsMajorityOfCluster(t *testing.T) {
	members := []Member{
		{InstanceID: "f1", Healthy: true, LatencyMS: 10, ReplicationLag: 0},
		{InstanceID: "f2", Healthy: true, LatencyMS: 20, ReplicationLag: 0},
		{InstanceID: "f3", Healthy: true, LatencyMS: 5, ReplicationLag: 0},
	}
	// total instances = 3 followers + 1 primary = 4; ceil(5/2) = 3
	result, err := Select(members, 4)
	assert.NoError(t, err)
	assert.Equal(t, 3, result.QuorumSize)
	assert.Len(t, result.Quorum, 3)
}

func TestSelectOrdersByWeightDescending(t *testing.T) {
	members := []Member{
		{InstanceID: "slow", Healthy: true, LatencyMS: 100, ReplicationLag: 0},
		{InstanceID: "fast", Healthy: true, LatencyMS: 1, ReplicationLag: 0},
	}
	result, err := Select(members, 2) // N=2 -> ceil(3/2)=2, both returned
	assert.NoError(t, err)
	assert.Equal(t, []string{"fast", "slow"}, result.Quorum)
}

func TestSelectTiesBrokenByStableID(t *testing.T) {
	members := []Member{
		{InstanceID: "b", Healthy: true, LatencyMS: 10, ReplicationLag: 0},
		{InstanceID: "a", Healthy: true, LatencyMS: 10, ReplicationLag: 0},
	}
	result, err := Select(members, 2)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result.Quorum)
}

func TestSelectNoHealthyQuorum(t *testing.T) {
	members := []Member{
		{InstanceID: "a", Healthy: false},
		{InstanceID: "b", Healthy: false},
	}
	_, err := Select(members, 2)
	assert.True(t, errors.Is(err, errs.ErrNoHealthyQuorum))
}

func TestSelectUnhealthyWeighsZero(t *testing.T) {
	members := []Member{
		{InstanceID: "unhealthy", Healthy: false, LatencyMS: 1, ReplicationLag: 0},
		{InstanceID: "healthy", Healthy: true, LatencyMS: 9999, ReplicationLag: 0},
	}
	result, err := Select(members, 1) // ceil(2/2)=1
	assert.NoError(t, err)
	assert.Equal(t, []string{"healthy"}, result.Quorum)
}

func TestWeightUnhealthyIsZero(t *testing.T) {
	assert.Equal(t, float64(0), Weight(Member{Healthy: false, LatencyMS: 1}))
}

func TestWeightFormula(t *testing.T) {
	w := Weight(Member{Healthy: true, LatencyMS: 9, ReplicationLag: 0})
	assert.InDelta(t, 0.1, w, 0.0001)
}
