package ir

// Version constants for the persisted model and engine.
const (
	// ModelVersion is the schema version of persisted plan and node records.
	ModelVersion = "1"

	// EngineVersion is the orchestration engine version.
	EngineVersion = "0.1.0"
)
