// Package errs defines the sentinel errors shared by every quorum component.
//
// Components wrap these with fmt.Errorf("...: %w", ErrX) so callers can
// branch on errors.Is without parsing messages, instead of matching on
// error strings.
package errs

import "errors"

var (
	// ErrAllocatorUnavailable means no timestamp shard produced a value
	// within its deadline. Transient; the caller may retry.
	ErrAllocatorUnavailable = errors.New("allocator unavailable")

	// ErrPrimaryUnavailable means the primary could not apply a statement.
	ErrPrimaryUnavailable = errors.New("primary unavailable")

	// ErrNoEligibleLeader means SEER found no healthy follower to promote.
	ErrNoEligibleLeader = errors.New("no eligible leader")

	// ErrPromotionFailed means the promotion command sequence did not
	// complete on the elected candidate. Topology is left untouched.
	ErrPromotionFailed = errors.New("promotion failed")

	// ErrRewireFailed means one or more surviving followers could not be
	// reconfigured to stream from the new primary. Topology has already
	// advanced; affected followers are marked needs_reconfigure.
	ErrRewireFailed = errors.New("rewire failed")

	// ErrNoHealthyQuorum means Cabinet returned an all-unhealthy set.
	ErrNoHealthyQuorum = errors.New("no healthy quorum")

	// ErrQuorumCatchupTimeout means a STRONG write succeeded on the
	// primary but the Cabinet quorum did not catch up before the deadline.
	ErrQuorumCatchupTimeout = errors.New("quorum catch-up timeout")

	// ErrInvalidStatement means the Router could not classify the
	// statement as a read or write.
	ErrInvalidStatement = errors.New("invalid statement")

	// ErrExecutionError means the database engine rejected the statement.
	ErrExecutionError = errors.New("execution error")

	// ErrFailoverInProgress means a caller attempted an administrative
	// topology change while the failover orchestrator holds the
	// single-writer failover lock.
	ErrFailoverInProgress = errors.New("failover in progress")
)
