// Package store provides SQLite-backed durable storage for the orchestration
// engine. The store is the single source of truth: no engine component keeps
// execution state in memory across an await.
//
// Tables:
//   - plan_executions: one row per run of a compiled plan
//   - node_executions: one row per attempt; retries fork a new row and flag
//     the previous one old_retry
//   - advise_events: one advisory claim per (node execution, terminal status)
//   - wait_instances, wait_correlations, notify_responses: durable callbacks
//   - delay_events: scheduled notifications fired by the poller
//
// # Critical Patterns
//
// Conditional transitions
//   - Status changes use UPDATE ... WHERE status IN (...) and report whether
//     a row changed, so a redelivered event cannot apply twice
//
// Live attempt uniqueness
//   - Partial UNIQUE(plan_execution_id, node_id) WHERE old_retry = 0
//   - Node triggers use INSERT ... ON CONFLICT DO NOTHING
//
// Atomic retry fork
//   - Marking the old attempt and inserting the new one share a transaction
//
// Deterministic ordering
//   - Lists are ordered by seq (insertion order), never by wall time
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Writes that hit SQLITE_BUSY or SQLITE_LOCKED despite the busy timeout are
// retried with backoff by withRetry.
package store
