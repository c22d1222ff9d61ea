// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// Snapshot task actions.
const (
	ActionBuild = "build"
	ActionClear = "clear"
)

// SnapshotTask asks the snapshot processor to rebuild or clear the artifacts
// of one target database.
type SnapshotTask struct {
	Action      string    `json:"action"`
	Database    string    `json:"database"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}
