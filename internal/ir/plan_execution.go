package ir

import "time"

// PlanExecution is one run of a compiled plan. Status stays RUNNING until an
// end transition or an abort moves it to a final status.
type PlanExecution struct {
	ID       string     `json:"id"`
	Plan     Plan       `json:"plan"`
	PlanHash string     `json:"plan_hash"`
	Status   Status     `json:"status"`
	StartTs  *time.Time `json:"start_ts,omitempty"`
	EndTs    *time.Time `json:"end_ts,omitempty"`
}
