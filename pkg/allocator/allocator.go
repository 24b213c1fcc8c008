// Package allocator implements the timestamp shard: a stateless counter
// seeded so that K independent shards never collide, backed by an
// atomic counter so Next can be called from concurrent goroutines
// without a lock.
package allocator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cuemby/quorum/pkg/errs"
)

// Shard is one timestamp allocator shard: seed, stride, and an
// atomically-incremented counter. Seeds in {1..K} with stride=K keep the
// value sets disjoint across shards.
type Shard struct {
	ServerID int64
	Seed     int64
	Stride   int64

	counter atomic.Int64

	// Persist is called after every Next() with the value about to be
	// issued, letting a caller durably record the high-water mark so a
	// restarted shard can resume above it instead of re-emitting
	// timestamps already handed out. When nil, or when no persisted value
	// is available, the shard degrades to reissuing from its seed.
	Persist func(last int64)
}

// NewShard builds a shard. resumeFrom, when greater than seed, overrides seed as
// the starting counter value — the restart-recovery path.
func NewShard(serverID, seed, stride, resumeFrom int64) *Shard {
	s := &Shard{ServerID: serverID, Seed: seed, Stride: stride}
	start := seed
	if resumeFrom > seed {
		start = resumeFrom
	}
	s.counter.Store(start)
	return s
}

// Next atomically reads and advances the counter by stride, returning the
// pre-increment value.
func (s *Shard) Next() int64 {
	next := s.counter.Add(s.Stride)
	issued := next - s.Stride
	if s.Persist != nil {
		s.Persist(issued)
	}
	return issued
}

// Reset sets the counter back to the seed. Administrative and
// cluster-wide destructive; callers must treat it accordingly.
func (s *Shard) Reset() {
	s.counter.Store(s.Seed)
	if s.Persist != nil {
		s.Persist(s.Seed)
	}
}

// Client is the Write Coordinator's view of the allocator tier: get a
// timestamp from whichever shard answers first, tolerating individual
// shard failures.
type Client interface {
	Next(ctx context.Context) (int64, error)
}

// LocalClient wraps a single in-process Shard, used when the coordinator
// and allocator are co-located (tests, single-binary deployments).
type LocalClient struct {
	Shard *Shard
}

func (c *LocalClient) Next(ctx context.Context) (int64, error) {
	return c.Shard.Next(), nil
}

// HTTPClient fronts a set of allocator HTTP endpoints, one per shard. Per
// callers try shards in a shuffled order with a short
// per-try deadline so that a single wedged shard does not stall the
// write path.
type HTTPClient struct {
	Endpoints []string
	HTTPC     *http.Client
	PerTry    time.Duration
}

// NewHTTPClient builds a client over the given shard endpoints with the
// spec's 2-second per-try deadline.
func NewHTTPClient(endpoints []string) *HTTPClient {
	return &HTTPClient{
		Endpoints: endpoints,
		HTTPC:     &http.Client{},
		PerTry:    2 * time.Second,
	}
}

type timestampResponse struct {
	Timestamp int64 `json:"timestamp"`
	ServerID  int64 `json:"server_id"`
}

// Next tries each shard endpoint in shuffled order, returning the first
// successful timestamp. If every shard fails, it reports
// ErrAllocatorUnavailable.
func (c *HTTPClient) Next(ctx context.Context) (int64, error) {
	order := rand.Perm(len(c.Endpoints))
	var lastErr error
	for _, idx := range order {
		ts, err := c.tryOne(ctx, c.Endpoints[idx])
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no allocator shards configured")
	}
	return 0, fmt.Errorf("%w: %v", errs.ErrAllocatorUnavailable, lastErr)
}

func (c *HTTPClient) tryOne(ctx context.Context, endpoint string) (int64, error) {
	tryCtx, cancel := context.WithTimeout(ctx, c.PerTry)
	defer cancel()

	req, err := http.NewRequestWithContext(tryCtx, http.MethodGet, endpoint+"/timestamp", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTPC.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("shard %s returned %d", endpoint, resp.StatusCode)
	}

	var body timestampResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Timestamp, nil
}
