package advise

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/orchestra/internal/ir"
)

// OnSuccessParameters configures the ON_SUCCESS adviser.
type OnSuccessParameters struct {
	NextNodeID string `json:"next_node_id,omitempty"`
}

// NextStepParameters configures the NEXT_STEP adviser.
type NextStepParameters struct {
	NextNodeID string `json:"next_node_id,omitempty"`
}

// RetryParameters configures the RETRY adviser.
//
// WaitIntervalList holds seconds. The wait before retry n+1 (n retries
// already done) is WaitIntervalList[min(n, len-1)], or 0 for an empty list.
type RetryParameters struct {
	RetryCount                 int                 `json:"retry_count"`
	WaitIntervalList           []int               `json:"wait_interval_list,omitempty"`
	RepairActionCodeAfterRetry ir.RepairActionCode `json:"repair_action_code_after_retry"`
	NextNodeID                 string              `json:"next_node_id,omitempty"`
	ApplicableFailureTypes     []ir.FailureType    `json:"applicable_failure_types,omitempty"`
}

// WaitInterval returns the wait in seconds after n completed retries.
func (p RetryParameters) WaitInterval(n int) int {
	if len(p.WaitIntervalList) == 0 {
		return 0
	}
	if n >= len(p.WaitIntervalList) {
		return p.WaitIntervalList[len(p.WaitIntervalList)-1]
	}
	if n < 0 {
		n = 0
	}
	return p.WaitIntervalList[n]
}

func (p RetryParameters) validate() error {
	if p.RetryCount < 0 {
		return &ConfigError{AdviserType: ir.AdviserRetry, Field: "retry_count", Message: "must not be negative"}
	}
	for i, w := range p.WaitIntervalList {
		if w < 0 {
			return &ConfigError{
				AdviserType: ir.AdviserRetry,
				Field:       fmt.Sprintf("wait_interval_list[%d]", i),
				Message:     "must not be negative",
			}
		}
	}
	if err := validateRepairAction(ir.AdviserRetry, "repair_action_code_after_retry", p.RepairActionCodeAfterRetry); err != nil {
		return err
	}
	return validateFailureTypes(ir.AdviserRetry, p.ApplicableFailureTypes)
}

// OnFailParameters configures the ON_FAIL adviser. An empty NextNodeID ends
// the plan as failed.
type OnFailParameters struct {
	NextNodeID             string           `json:"next_node_id,omitempty"`
	ApplicableFailureTypes []ir.FailureType `json:"applicable_failure_types,omitempty"`
}

// ManualInterventionParameters configures the MANUAL_INTERVENTION adviser.
// Timeout is in seconds; 0 waits for an operator indefinitely.
type ManualInterventionParameters struct {
	Timeout                int                 `json:"timeout,omitempty"`
	TimeoutAction          ir.RepairActionCode `json:"timeout_action,omitempty"`
	NextNodeID             string              `json:"next_node_id,omitempty"`
	ApplicableFailureTypes []ir.FailureType    `json:"applicable_failure_types,omitempty"`
}

func (p ManualInterventionParameters) action() ir.RepairActionCode {
	if p.TimeoutAction == "" {
		return ir.RepairEndExecution
	}
	return p.TimeoutAction
}

func (p ManualInterventionParameters) validate() error {
	if p.Timeout < 0 {
		return &ConfigError{AdviserType: ir.AdviserManualIntervention, Field: "timeout", Message: "must not be negative"}
	}
	if p.TimeoutAction != "" {
		if err := validateRepairAction(ir.AdviserManualIntervention, "timeout_action", p.TimeoutAction); err != nil {
			return err
		}
	}
	return validateFailureTypes(ir.AdviserManualIntervention, p.ApplicableFailureTypes)
}

// EndPlanParameters configures the END_PLAN adviser. It has no options.
type EndPlanParameters struct{}

// decodeParameters strictly decodes raw into T. Empty input yields the zero
// value.
func decodeParameters[T any](adviser ir.AdviserType, raw json.RawMessage) (T, error) {
	var out T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, &ConfigError{AdviserType: adviser, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}
	return out, nil
}

// validateRepairAction accepts every code except RETRY, which only makes
// sense as an operator's choice during an intervention.
func validateRepairAction(adviser ir.AdviserType, field string, code ir.RepairActionCode) error {
	if code == "" {
		return &ConfigError{AdviserType: adviser, Field: field, Message: "is required"}
	}
	if !ir.ValidRepairActions[code] || code == ir.RepairRetry {
		return &ConfigError{AdviserType: adviser, Field: field, Message: fmt.Sprintf("unsupported repair action %q", code)}
	}
	return nil
}

func validateFailureTypes(adviser ir.AdviserType, types []ir.FailureType) error {
	for _, ft := range types {
		if _, err := ir.ParseFailureType(string(ft)); err != nil {
			return &ConfigError{AdviserType: adviser, Field: "applicable_failure_types", Message: err.Error()}
		}
	}
	return nil
}
