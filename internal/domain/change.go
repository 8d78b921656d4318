package domain

import "time"

// ChangeType is the kind of row change.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	ChangeAll    ChangeType = "*"
)

// ChangeEvent is a single notification from the change feed.
type ChangeEvent struct {
	Table      string         `json:"table"`
	Type       ChangeType     `json:"type"`
	Record     map[string]any `json:"record,omitempty"`
	CommitTime time.Time      `json:"commit_timestamp"`
}

// Resource sets subscribed by each view.
var (
	DashboardResources = []string{TableExecutions, TableProject}
	AdminResources     = []string{TableProfiles, TableProject, TableExecution}
)
