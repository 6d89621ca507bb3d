package ir

// Version constants for IR schema and engine.
const (
	// IRVersion is the record schema version.
	IRVersion = "1"

	// EngineVersion is the deploydag engine version.
	EngineVersion = "0.1.0"
)
