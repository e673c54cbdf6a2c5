package ir

import "encoding/json"

// Level is one frame of the execution stack: the plan, a stage, or a step.
type Level struct {
	SetupID    string   `json:"setup_id"`   // PlanNode uuid
	RuntimeID  string   `json:"runtime_id"` // NodeExecution uuid
	Identifier string   `json:"identifier"`
	StepType   StepType `json:"step_type"`
}

// Ambiance is the immutable execution context passed by value through every
// call. The top of the level stack identifies the currently executing node.
//
// The zero value is an empty ambiance with no plan execution.
type Ambiance struct {
	planExecutionID string
	levels          []Level
}

// NewAmbiance builds an ambiance for a plan execution. The levels are copied.
func NewAmbiance(planExecutionID string, levels ...Level) Ambiance {
	return Ambiance{
		planExecutionID: planExecutionID,
		levels:          cloneLevels(levels),
	}
}

// PlanExecutionID returns the plan execution this ambiance belongs to.
func (a Ambiance) PlanExecutionID() string {
	return a.planExecutionID
}

// Levels returns a copy of the level stack, bottom first.
func (a Ambiance) Levels() []Level {
	return cloneLevels(a.levels)
}

// Depth returns the number of levels.
func (a Ambiance) Depth() int {
	return len(a.levels)
}

// Current returns the top level, or false for an empty ambiance.
func (a Ambiance) Current() (Level, bool) {
	if len(a.levels) == 0 {
		return Level{}, false
	}
	return a.levels[len(a.levels)-1], true
}

// RuntimeID returns the NodeExecution uuid of the current level.
func (a Ambiance) RuntimeID() string {
	l, _ := a.Current()
	return l.RuntimeID
}

// SetupID returns the PlanNode uuid of the current level.
func (a Ambiance) SetupID() string {
	l, _ := a.Current()
	return l.SetupID
}

// Push returns a new ambiance with level on top. The receiver is unchanged.
func (a Ambiance) Push(level Level) Ambiance {
	levels := make([]Level, len(a.levels), len(a.levels)+1)
	copy(levels, a.levels)
	return Ambiance{
		planExecutionID: a.planExecutionID,
		levels:          append(levels, level),
	}
}

// Pop returns the ambiance of the parent level.
func (a Ambiance) Pop() Ambiance {
	if len(a.levels) == 0 {
		return a
	}
	return Ambiance{
		planExecutionID: a.planExecutionID,
		levels:          cloneLevels(a.levels[:len(a.levels)-1]),
	}
}

// WithRuntimeID returns a clone whose top level carries runtimeID.
// Used when a retry fork moves the live attempt to a fresh uuid.
func (a Ambiance) WithRuntimeID(runtimeID string) Ambiance {
	if len(a.levels) == 0 {
		return a
	}
	levels := cloneLevels(a.levels)
	levels[len(levels)-1].RuntimeID = runtimeID
	return Ambiance{planExecutionID: a.planExecutionID, levels: levels}
}

type ambianceJSON struct {
	PlanExecutionID string  `json:"plan_execution_id"`
	Levels          []Level `json:"levels"`
}

// MarshalJSON implements json.Marshaler.
func (a Ambiance) MarshalJSON() ([]byte, error) {
	levels := a.levels
	if levels == nil {
		levels = []Level{}
	}
	return json.Marshal(ambianceJSON{PlanExecutionID: a.planExecutionID, Levels: levels})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Ambiance) UnmarshalJSON(data []byte) error {
	var aux ambianceJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.planExecutionID = aux.PlanExecutionID
	a.levels = cloneLevels(aux.Levels)
	return nil
}

func cloneLevels(levels []Level) []Level {
	if len(levels) == 0 {
		return nil
	}
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}
