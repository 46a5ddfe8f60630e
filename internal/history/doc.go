// Package history persists run results in SQLite so that a case whose
// outcome changes from one run to the next can be flagged flaky.
//
// Each run is one row in runs, keyed by a UUIDv7 run id and ordered by an
// autoincrement seq. Every attempt of every case is one row in attempts.
// Deleting a run cascades to its attempts.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - foreign_keys=ON: Needed for the attempts cascade
package history
