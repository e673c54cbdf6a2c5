// Package ir holds the execution data model shared by every other package:
// Ambiance, Plan and PlanNode, NodeExecution, the Advise tagged union and the
// events advisers consume.
//
// This package contains types and pure helpers only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Ambiance is immutable; pushing a level or replacing the runtime id
//     always returns a clone
//   - PlanNode is immutable after compilation
//   - NodeExecution retry lineage is copy-on-fork (ForkForRetry never shares
//     a RetryIDs backing array between the historical and live records)
//   - All JSON tags use snake_case
package ir
