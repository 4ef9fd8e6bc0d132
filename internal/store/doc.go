// Package store provides SQLite-backed durable storage for agenda snapshots.
//
// A snapshot is the persisted scheduling state of one agenda: clock,
// resolver, focus stack, every group with its watermarks, process
// associations and pending activations, and the pending deferred actions.
//
// # Critical Patterns
//
// Write-once snapshots:
//   - SaveSnapshot writes every row of a snapshot in one transaction
//   - Saving the same ID twice is rejected by the UNIQUE constraint
//
// Integrity:
//   - The content digest (ir.SnapshotDigest) is stored with the snapshot
//   - LoadSnapshot recomputes it and refuses a snapshot that does not match
//
// Deterministic reads:
//   - Snapshots are listed ORDER BY seq ASC
//   - Child rows carry a position column and are read ORDER BY position
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
