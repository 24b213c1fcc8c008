/*
Package types defines the core data structures shared across the
coordination plane: instance descriptors, the read-only topology snapshot,
the consistency and failover-state enumerations, and the sampler's
per-instance health record.

# Thread safety

No type in this package carries a lock. The cluster's single piece of
shared mutable state (primary + followers) is topology.Topology in
pkg/topology, which hands out TopologySnapshot copies. HealthRecord is owned by the
sampler and handed to readers only as a Clone(); callers must not mutate a
HealthRecord obtained from a snapshot and expect it to propagate back.

# See also

  - pkg/topology for the Cabinet/SEER/failover callers of Topology
  - pkg/sampler for the writer of HealthRecord
*/
package types
