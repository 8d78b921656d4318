package domain

import "encoding/json"

// ============================================================
// Conversations
// ============================================================

// UnknownSession is the grouping bucket for messages without a session id.
const UnknownSession = "unknown"

// Conversation source markers.
const (
	SourceMulch = "mulchbg"
	SourceChat  = "chat"
)

// ConversationMessage is the normalized chat-like record.
// Message is either a JSON string or a structured JSON value.
type ConversationMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	Timestamp *string         `json:"timestamp,omitempty"`
	ProjectID *string         `json:"project_id,omitempty"`
	Source    string          `json:"source"`
}

// GroupKey returns the session id or UnknownSession.
func (m ConversationMessage) GroupKey() string {
	if m.SessionID == "" {
		return UnknownSession
	}
	return m.SessionID
}

// ConversationGroup is all messages of one session, in fetch order.
type ConversationGroup struct {
	SessionID string                `json:"session_id"`
	Messages  []ConversationMessage `json:"messages"`
}

// ParsedMessage is the display form of a raw message payload.
type ParsedMessage struct {
	Content   string `json:"content"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Document is a row of the `documents` knowledge base. The embedding column
// is never read.
type Document struct {
	ID       FlexID          `json:"id"`
	Content  *string         `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
}

// DocumentsResponse is the body of GET /v1/documents.
type DocumentsResponse struct {
	Documents []Document `json:"documents"`
}
