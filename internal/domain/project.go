package domain

// ============================================================
// Projects & Tenants
// ============================================================

// Physical data tables a project can point at.
const (
	TableExecutions       = "executions"
	TableMulch            = "mulchbg"
	TableChatHistories    = "n8n_chat_histories"
	TableChatMessage      = "chat_message"
	TableChatConversation = "chat_conversation"
	TableProject          = "project"
	TableProfiles         = "profiles"
	TableUserProfile      = "user_profile"
	TableTenants          = "tenants"
	TableExecution        = "execution"
	TableDocuments        = "documents"
)

// AllProjects is the selection sentinel for "every project in the account".
const AllProjects = "all"

// FilterConfig is an optional per-project row filter.
type FilterConfig struct {
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
	Type   string `json:"type,omitempty"`
}

// IsZero reports whether no filter is configured.
func (f FilterConfig) IsZero() bool {
	return f.Column == "" || f.Value == ""
}

// Project is a named view over one physical data table.
type Project struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	AccountID    string  `json:"account_id"`
	DataTable    *string `json:"data_table"`
	FilterColumn *string `json:"filter_column"`
	FilterValue  *string `json:"filter_value"`
	FilterType   *string `json:"filter_type"`
	CreatedAt    string  `json:"created_at,omitempty"`
}

// Table returns the project's data table, defaulting to executions.
func (p Project) Table() string {
	if p.DataTable == nil || *p.DataTable == "" {
		return TableExecutions
	}
	return *p.DataTable
}

// Filter returns the project's row filter.
func (p Project) Filter() FilterConfig {
	return FilterConfig{
		Column: deref(p.FilterColumn),
		Value:  deref(p.FilterValue),
		Type:   deref(p.FilterType),
	}
}

// ProjectDetails is a row of the get_user_project_details RPC: the
// caller's assigned project as seen through its own session.
type ProjectDetails struct {
	ProjectID    string `json:"project_id"`
	ProjectName  string `json:"project_name"`
	DataTable    string `json:"data_table"`
	FilterColumn string `json:"filter_column"`
	FilterValue  string `json:"filter_value"`
	FilterType   string `json:"filter_type"`
}

// Project converts the row to a Project.
func (d ProjectDetails) Project() Project {
	return Project{
		ID:           d.ProjectID,
		Name:         d.ProjectName,
		DataTable:    StrPtr(d.DataTable),
		FilterColumn: StrPtr(d.FilterColumn),
		FilterValue:  StrPtr(d.FilterValue),
		FilterType:   StrPtr(d.FilterType),
	}
}

// ProjectInput is the payload for creating a project.
type ProjectInput struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	DataTable string `json:"data_table"`
}

// Tenant is a top-level organizational folder.
type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
