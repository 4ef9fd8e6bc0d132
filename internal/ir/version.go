package ir

// Version constants for snapshot schema and engine.
const (
	// SnapshotVersion is the persisted snapshot schema version.
	SnapshotVersion = "1"

	// EngineVersion is the agenda engine version.
	EngineVersion = "0.1.0"
)
