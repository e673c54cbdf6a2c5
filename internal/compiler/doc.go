// Package compiler turns plan definitions into validated ir.Plan values.
//
// Plans are written in CUE or YAML. CUE plans live under a top-level
// "plan" struct keyed by plan id:
//
//	plan: deploy: {
//		start: "build"
//		nodes: {
//			build: {
//				step_type: "Http"
//				advisers: [
//					{type: "RETRY", parameters: {retry_count: 2, repair_action_code_after_retry: "END_EXECUTION"}},
//					{type: "ON_SUCCESS", parameters: {next_node_id: "test"}},
//				]
//			}
//			test: step_type: "Shell"
//		}
//	}
//
// Node labels are the node ids. Nodes keep their declaration order.
// ValidatePlan checks references between nodes and adviser parameters;
// AnalyzeCycles reports routing loops.
package compiler
