// Package journal records what replicas integrate into an append-only
// SQLite database, so that a run can be replayed offline and checked for
// convergence.
//
// Three tables make up the journal:
//   - replicas: one row per replica name with its id and initial content
//   - ops: every operation a replica integrated, unique per (replica, mark)
//   - digests: the content digest after each integration
//
// Ops are keyed by mark, so a redelivered operation is journaled once.
// All reads order by seq, the insertion counter, never by timestamps.
//
// The journal is a verification trace. Nothing in it is ever loaded back
// into a live replica.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package journal
