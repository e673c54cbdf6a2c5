// Package harness runs plan scenarios against the orchestration engine and
// checks the resulting node execution trace.
//
// Each scenario runs on a fresh in-memory store with a sync-dispatch engine,
// sequential ids and a manual wall clock, so the same scenario always
// produces the same trace.
//
// # Scenario Format
//
// Scenarios are YAML documents:
//
//	name: retry_then_succeed
//	description: "b fails twice and succeeds on the third attempt"
//	plan:
//	  id: deploy
//	  start: a
//	  nodes:
//	    - id: a
//	      step_type: Shell
//	      advisers:
//	        - type: ON_SUCCESS
//	          parameters: { next_node_id: b }
//	    - id: b
//	      step_type: Shell
//	      advisers:
//	        - type: RETRY
//	          parameters:
//	            retry_count: 2
//	            wait_interval_list: [5]
//	            repair_action_code_after_retry: END_EXECUTION
//	outcomes:
//	  b:
//	    - { status: FAILED, message: flaky }
//	    - { status: FAILED, message: flaky }
//	steps:
//	  - advance: 5s
//	  - advance: 5s
//	assertions:
//	  - type: trace_count
//	    node: b
//	    count: 3
//	  - type: plan_status
//	    status: SUCCEEDED
//
// Outcomes queue step responses per node id. A node with nothing queued
// succeeds, except "Approval" steps which decide from their approval and
// rejection criteria.
//
// Steps run after the plan starts, in order:
//
//   - advance: moves the wall clock and runs one poller tick
//   - intervene: resolves a node waiting for manual intervention
//   - notify: delivers a task response to a waiting node
//   - abort: aborts the plan execution
//
// # Assertion Types
//
//   - trace_contains: some attempt of node has status (and attempt, if set)
//   - trace_order: the first attempts of nodes appear in the given order
//   - trace_count: node has exactly count attempts
//   - plan_status: the plan execution ended (or stays) in status
//
// # Golden Traces
//
// RunWithGolden compares the rendered trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
