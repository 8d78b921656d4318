package domain

import "time"

// ============================================================
// Dashboard view state
// ============================================================

// DashboardSnapshot is what a dashboard view renders. Each snapshot belongs
// to exactly one selection generation.
type DashboardSnapshot struct {
	Generation    uint64                `json:"generation"`
	Selection     string                `json:"selection"`
	DateRange     DateRange             `json:"date_range"`
	ViewMode      ViewMode              `json:"view_mode"`
	Projects      []Project             `json:"projects"`
	Executions    ExecutionResult       `json:"executions"`
	Timeline      []TimelinePoint       `json:"timeline"`
	Status        []StatusSlice         `json:"status"`
	Conversations []ConversationMessage `json:"conversations"`
	Documents     []Document            `json:"documents"`
	// Notice is a non-blocking failure message; data is last-known-good.
	Notice    string    `json:"notice,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Live dashboard message types.
const (
	LiveMsgSelect   = "select"
	LiveMsgMode     = "mode"
	LiveMsgRefresh  = "refresh"
	LiveMsgSnapshot = "snapshot"
	LiveMsgError    = "error"
	LiveMsgAdmin    = "admin"
)

// SelectRequest is sent by live dashboard clients: "select" changes project
// and range, "mode" switches the view mode, "refresh" re-aggregates.
type SelectRequest struct {
	Type    string `json:"type"`
	Project string `json:"project,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// LiveMessage is pushed to live dashboard clients.
type LiveMessage struct {
	Type     string             `json:"type"`
	Snapshot *DashboardSnapshot `json:"snapshot,omitempty"`
	Admin    *AdminOverview     `json:"admin,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ViewModeRequest is the body of PUT /v1/role/view-mode.
type ViewModeRequest struct {
	Mode string `json:"mode"`
}

// TimelineResponse is returned by GET /v1/executions/timeline.
type TimelineResponse struct {
	Timeline []TimelinePoint `json:"timeline"`
	Status   []StatusSlice   `json:"status"`
	Partial  bool            `json:"partial"`
}

// ConversationsResponse is returned by GET /v1/conversations.
type ConversationsResponse struct {
	Messages []ConversationMessage `json:"messages"`
	Groups   []ConversationGroup   `json:"groups"`
}
