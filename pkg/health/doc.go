// Package health provides a small Checker abstraction for liveness
// probes that run ahead of a heavier protocol-level check. Today
// pkg/sampler uses TCPChecker to rule out a fully unreachable instance
// before paying for a MySQL driver dial-and-query cycle; the Checker
// interface exists so a different check type can slot in later without
// touching the sampler's probe loop.
package health
