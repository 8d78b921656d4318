package domain

import "time"

// ============================================================
// Admin payloads
// ============================================================

// RoleUpdateRequest changes a user's stored role.
type RoleUpdateRequest struct {
	Role string `json:"role"`
}

// AssignmentRequest assigns (or, with a nil/"unassigned" id, clears) a project or tenant.
type AssignmentRequest struct {
	ID *string `json:"id"`
}

// TenantRequest creates a tenant.
type TenantRequest struct {
	Name string `json:"name"`
}

// DataSourceRequest edits a project's data table and row filter.
type DataSourceRequest struct {
	DataTable string       `json:"data_table"`
	Filter    FilterConfig `json:"filter"`
}

// RealProjectRequest is the input of the create_real_project RPC.
type RealProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ClientName  string `json:"client_name,omitempty"`
}

// RealExecutionRequest is the input of the add_real_execution RPC.
type RealExecutionRequest struct {
	ProjectID    string    `json:"project_id"`
	WorkflowName string    `json:"workflow_name"`
	Status       string    `json:"status"`
	DurationMS   *int      `json:"duration_ms,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// BulkImportRequest carries one execution per line: name,status,duration_ms,date.
type BulkImportRequest struct {
	ProjectID string `json:"project_id"`
	Lines     string `json:"lines"`
}

// BulkImportResult counts imported and rejected lines.
type BulkImportResult struct {
	Success int      `json:"success"`
	Errors  int      `json:"errors"`
	Failed  []string `json:"failed,omitempty"`
}

// AdminKPI is one row of the admin_dashboard_kpi RPC.
type AdminKPI struct {
	AvgDurationMS float64 `json:"avg_duration_ms"`
	LastActivity  string  `json:"last_activity"`
	SuccessRate   float64 `json:"success_rate"`
	TotalExec     int     `json:"total_exec"`
}

// UploadResult is the stored object path of an uploaded document.
type UploadResult struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

// AdminOverview is what the live admin panel renders.
type AdminOverview struct {
	Users    []Profile `json:"users"`
	Projects []Project `json:"projects"`
	Tenants  []Tenant  `json:"tenants"`
	// Notice is set when a refresh failed; lists are last-known-good.
	Notice    string    `json:"notice,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
