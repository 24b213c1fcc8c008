package allocator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardNextStrictlyIncreasingByStride(t *testing.T) {
	s := NewShard(1, 1, 3, 0)

	first := s.Next()
	second := s.Next()
	third := s.Next()

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(4), second)
	assert.Equal(t, int64(7), third)
}

func TestShardsAcrossClusterAreDisjoint(t *testing.T) {
	const k = 3
	shards := make([]*Shard, k)
	for i := range shards {
		shards[i] = NewShard(int64(i), int64(i+1), k, 0)
	}

	seen := make(map[int64]bool)
	for round := 0; round < 5; round++ {
		for _, s := range shards {
			ts := s.Next()
			assert.False(t, seen[ts], "timestamp %d issued twice across shards", ts)
			seen[ts] = true
		}
	}
}

func TestShardNextConcurrentUnique(t *testing.T) {
	s := NewShard(1, 1, 1, 0)

	const n = 200
	results := make(chan int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			results <- s.Next()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for ts := range results {
		assert.False(t, seen[ts])
		seen[ts] = true
	}
	assert.Len(t, seen, n)
}

func TestShardReset(t *testing.T) {
	s := NewShard(1, 5, 2, 0)
	s.Next()
	s.Next()
	s.Reset()

	assert.Equal(t, int64(5), s.Next())
}

func TestShardResumeFromPersistedValue(t *testing.T) {
	s := NewShard(1, 1, 4, 13)
	assert.Equal(t, int64(13), s.Next())
}

func TestShardPersistCalledWithIssuedValue(t *testing.T) {
	var persisted []int64
	s := NewShard(1, 1, 2, 0)
	s.Persist = func(last int64) { persisted = append(persisted, last) }

	s.Next()
	s.Next()

	assert.Equal(t, []int64{1, 3}, persisted)
}
