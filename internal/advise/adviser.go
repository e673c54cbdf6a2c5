package advise

import (
	"encoding/json"
	"log/slog"

	"github.com/roach88/orchestra/internal/ir"
)

// Adviser decides what happens after a node reaches a terminal status.
//
// CanAdvise must be side-effect free. OnAdviseEvent is only called after
// CanAdvise returned true for the same event; a nil advise is a legal,
// final answer.
type Adviser interface {
	Type() ir.AdviserType
	CanAdvise(ev ir.AdvisingEvent) bool
	OnAdviseEvent(ev ir.AdvisingEvent) (*ir.Advise, error)
	ValidateParameters(raw json.RawMessage) error
}

// OnSuccessAdviser continues to the next node once a node finished
// positively. With no next node the plan ends.
type OnSuccessAdviser struct{}

func (OnSuccessAdviser) Type() ir.AdviserType { return ir.AdviserOnSuccess }

func (OnSuccessAdviser) CanAdvise(ev ir.AdvisingEvent) bool {
	return ev.ToStatus.IsPositive()
}

func (OnSuccessAdviser) OnAdviseEvent(ev ir.AdvisingEvent) (*ir.Advise, error) {
	p, err := decodeParameters[OnSuccessParameters](ir.AdviserOnSuccess, ev.AdviserParameters)
	if err != nil {
		return nil, err
	}
	return nextOrEnd(p.NextNodeID), nil
}

func (OnSuccessAdviser) ValidateParameters(raw json.RawMessage) error {
	_, err := decodeParameters[OnSuccessParameters](ir.AdviserOnSuccess, raw)
	return err
}

// NextStepAdviser continues to the next node regardless of outcome.
type NextStepAdviser struct{}

func (NextStepAdviser) Type() ir.AdviserType { return ir.AdviserNextStep }

func (NextStepAdviser) CanAdvise(ir.AdvisingEvent) bool { return true }

func (NextStepAdviser) OnAdviseEvent(ev ir.AdvisingEvent) (*ir.Advise, error) {
	p, err := decodeParameters[NextStepParameters](ir.AdviserNextStep, ev.AdviserParameters)
	if err != nil {
		return nil, err
	}
	return nextOrEnd(p.NextNodeID), nil
}

func (NextStepAdviser) ValidateParameters(raw json.RawMessage) error {
	_, err := decodeParameters[NextStepParameters](ir.AdviserNextStep, raw)
	return err
}

// RetryAdviser re-runs a broken node until RetryCount retries are spent,
// then applies the configured repair action.
type RetryAdviser struct {
	Logger *slog.Logger
}

func (RetryAdviser) Type() ir.AdviserType { return ir.AdviserRetry }

func (a RetryAdviser) CanAdvise(ev ir.AdvisingEvent) bool {
	if !ev.ToStatus.IsBroken() {
		return false
	}
	p, err := decodeParameters[RetryParameters](ir.AdviserRetry, ev.AdviserParameters)
	if err != nil {
		logger(a.Logger).Warn("retry adviser parameters unreadable",
			"node_execution_id", ev.NodeExecutionID,
			"error", err,
		)
		return false
	}
	return ev.FailureInfo.MatchesAny(p.ApplicableFailureTypes)
}

func (RetryAdviser) OnAdviseEvent(ev ir.AdvisingEvent) (*ir.Advise, error) {
	p, err := decodeParameters[RetryParameters](ir.AdviserRetry, ev.AdviserParameters)
	if err != nil {
		return nil, err
	}
	done := len(ev.RetryIDs)
	if done < p.RetryCount {
		adv := ir.NewRetryAdvise(ev.NodeExecutionID, p.WaitInterval(done))
		return &adv, nil
	}
	adv, err := RepairAdvise(p.RepairActionCodeAfterRetry, p.NextNodeID, p.ApplicableFailureTypes)
	if err != nil {
		return nil, err
	}
	return &adv, nil
}

func (RetryAdviser) ValidateParameters(raw json.RawMessage) error {
	p, err := decodeParameters[RetryParameters](ir.AdviserRetry, raw)
	if err != nil {
		return err
	}
	return p.validate()
}

// OnFailAdviser routes a broken node whose failure matches the configured
// types.
type OnFailAdviser struct {
	Logger *slog.Logger
}

func (OnFailAdviser) Type() ir.AdviserType { return ir.AdviserOnFail }

func (a OnFailAdviser) CanAdvise(ev ir.AdvisingEvent) bool {
	if !ev.ToStatus.IsBroken() {
		return false
	}
	p, err := decodeParameters[OnFailParameters](ir.AdviserOnFail, ev.AdviserParameters)
	if err != nil {
		logger(a.Logger).Warn("on-fail adviser parameters unreadable",
			"node_execution_id", ev.NodeExecutionID,
			"error", err,
		)
		return false
	}
	return ev.FailureInfo.MatchesAny(p.ApplicableFailureTypes)
}

func (OnFailAdviser) OnAdviseEvent(ev ir.AdvisingEvent) (*ir.Advise, error) {
	p, err := decodeParameters[OnFailParameters](ir.AdviserOnFail, ev.AdviserParameters)
	if err != nil {
		return nil, err
	}
	adv := ir.NewOnFailAdvise(p.NextNodeID, p.ApplicableFailureTypes)
	return &adv, nil
}

func (OnFailAdviser) ValidateParameters(raw json.RawMessage) error {
	p, err := decodeParameters[OnFailParameters](ir.AdviserOnFail, raw)
	if err != nil {
		return err
	}
	return validateFailureTypes(ir.AdviserOnFail, p.ApplicableFailureTypes)
}

// ManualInterventionAdviser parks a broken node until an operator acts.
type ManualInterventionAdviser struct {
	Logger *slog.Logger
}

func (ManualInterventionAdviser) Type() ir.AdviserType { return ir.AdviserManualIntervention }

func (a ManualInterventionAdviser) CanAdvise(ev ir.AdvisingEvent) bool {
	if !ev.ToStatus.IsBroken() {
		return false
	}
	p, err := decodeParameters[ManualInterventionParameters](ir.AdviserManualIntervention, ev.AdviserParameters)
	if err != nil {
		logger(a.Logger).Warn("manual intervention adviser parameters unreadable",
			"node_execution_id", ev.NodeExecutionID,
			"error", err,
		)
		return false
	}
	return ev.FailureInfo.MatchesAny(p.ApplicableFailureTypes)
}

func (ManualInterventionAdviser) OnAdviseEvent(ev ir.AdvisingEvent) (*ir.Advise, error) {
	p, err := decodeParameters[ManualInterventionParameters](ir.AdviserManualIntervention, ev.AdviserParameters)
	if err != nil {
		return nil, err
	}
	adv := ir.NewInterventionWaitAdvise(p.Timeout, p.action(), p.NextNodeID)
	return &adv, nil
}

func (ManualInterventionAdviser) ValidateParameters(raw json.RawMessage) error {
	p, err := decodeParameters[ManualInterventionParameters](ir.AdviserManualIntervention, raw)
	if err != nil {
		return err
	}
	return p.validate()
}

// EndPlanAdviser finishes the plan once the node is final.
type EndPlanAdviser struct{}

func (EndPlanAdviser) Type() ir.AdviserType { return ir.AdviserEndPlan }

func (EndPlanAdviser) CanAdvise(ev ir.AdvisingEvent) bool {
	return ev.ToStatus.IsFinal()
}

func (EndPlanAdviser) OnAdviseEvent(ir.AdvisingEvent) (*ir.Advise, error) {
	adv := ir.NewEndPlanAdvise()
	return &adv, nil
}

func (EndPlanAdviser) ValidateParameters(raw json.RawMessage) error {
	_, err := decodeParameters[EndPlanParameters](ir.AdviserEndPlan, raw)
	return err
}

// RepairAdvise maps a non-retry repair action to the advise that carries it
// out. It is used after retries are exhausted, when an intervention times out
// and when an operator picks an action.
func RepairAdvise(code ir.RepairActionCode, nextNodeID string, failureTypes []ir.FailureType) (ir.Advise, error) {
	switch code {
	case ir.RepairIgnore:
		return ir.NewNextStepAdvise(nextNodeID, ir.StatusIgnoreFailed), nil
	case ir.RepairEndExecution:
		return ir.NewEndPlanAdvise(), nil
	case ir.RepairManualIntervention:
		return ir.NewInterventionWaitAdvise(0, ir.RepairEndExecution, nextNodeID), nil
	case ir.RepairOnFail:
		return ir.NewOnFailAdvise(nextNodeID, failureTypes), nil
	case ir.RepairMarkAsSuccess:
		return ir.NewMarkSuccessAdvise(nextNodeID), nil
	default:
		return ir.UnknownAdvise(), &ConfigError{
			AdviserType: ir.AdviserRetry,
			Field:       "repair_action_code",
			Message:     "unsupported repair action " + string(code),
		}
	}
}

func nextOrEnd(nextNodeID string) *ir.Advise {
	var adv ir.Advise
	if nextNodeID == "" {
		adv = ir.NewEndPlanAdvise()
	} else {
		adv = ir.NewNextStepAdvise(nextNodeID, "")
	}
	return &adv
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
