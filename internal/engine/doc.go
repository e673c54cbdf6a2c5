// Package engine implements the orchestration engine: it runs plan
// executions node by node and decides, after every node finishes, what
// happens next.
//
// ARCHITECTURE:
//
// Event Processing Flow:
//  1. Start (or a next-step advise) triggers a node: one QUEUED attempt is
//     stored and a dispatch event queued
//  2. Dispatch moves the attempt to RUNNING and runs its step through the
//     Facilitator
//  3. A final step response is stored as a conditional terminal transition;
//     only the winning transition queues an advise event
//  4. The advise event runs the node's advisers in declaration order; the
//     first that can advise decides, and the result is claimed in the store
//  5. The claimed advise is executed by its handler: trigger the next node,
//     retry, route on failure, wait for intervention, or end the plan
//
// Suspension:
// Delayed retries, delegate tasks and intervention timeouts are durable
// callbacks in the waitnotify package, resumed by its poller. Nothing that
// must survive a restart lives only in memory; Recover rebuilds the queue
// from the store.
//
// Retries:
// A retry forks the attempt: the old record is kept verbatim and flagged as
// an old retry, and a new live attempt lists its predecessors in RetryIDs.
// Any id of the lineage resolves to the live attempt.
//
// Concurrency:
// Run drains the queue with a worker pool; Drain processes it inline. All
// coordination happens through conditional updates in the store, so
// duplicated events and concurrent workers are safe.
package engine
