package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ============================================================
// Source rows: one variant per physical table shape
// ============================================================

// SourceRow is a row fetched from one of the physical data tables.
// The set of variants is closed: ExecutionRow, MulchRow, ChatHistoryRow,
// ChatMessageRow and GenericRow.
type SourceRow interface {
	sourceTable() string
}

// SourceTableOf returns the physical table a row was read from.
func SourceTableOf(r SourceRow) string {
	return r.sourceTable()
}

// FlexID accepts both numeric and string primary keys.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// String returns the id as text.
func (f FlexID) String() string { return string(f) }

// ExecutionRow is a row of the `executions` table.
type ExecutionRow struct {
	ID           FlexID   `json:"id"`
	TenantID     string   `json:"tenant_id"`
	WorkflowName string   `json:"workflow_name"`
	Status       string   `json:"status"`
	Timestamp    string   `json:"timestamp"`
	DurationMS   *float64 `json:"duration_ms"`
	CostUSD      *float64 `json:"cost_usd"`
	ErrorMessage *string  `json:"error_message"`
}

func (ExecutionRow) sourceTable() string { return TableExecutions }

// MulchRow is a row of the `mulchbg` table. It has no timestamp column.
type MulchRow struct {
	ID        FlexID          `json:"id"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	MulchID   *string         `json:"mulch id"`
	ProjectID *string         `json:"project_id"`
}

func (MulchRow) sourceTable() string { return TableMulch }

// ChatHistoryRow is a row of the `n8n_chat_histories` table.
type ChatHistoryRow struct {
	ID        FlexID          `json:"id"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	CreatedAt *string         `json:"created_at"`
}

func (ChatHistoryRow) sourceTable() string { return TableChatHistories }

// ChatMessageRow is a `chat_message` row joined to its parent conversation.
type ChatMessageRow struct {
	ID             FlexID  `json:"id"`
	Content        string  `json:"content"`
	ConversationID string  `json:"conversation_id"`
	CreatedAt      *string `json:"created_at"`
	Role           string  `json:"role"`
	Conversation   *struct {
		ProjectID *string `json:"project_id"`
	} `json:"chat_conversation"`
}

func (ChatMessageRow) sourceTable() string { return TableChatMessage }

// ProjectID returns the joined conversation's project id.
func (r ChatMessageRow) ProjectID() string {
	if r.Conversation == nil {
		return ""
	}
	return deref(r.Conversation.ProjectID)
}

// GenericRow is a row of any table without a dedicated mapping.
type GenericRow struct {
	Table  string
	Fields map[string]any
}

func (r GenericRow) sourceTable() string { return r.Table }

// StringField returns a field rendered as text, or "".
func (r GenericRow) StringField(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
