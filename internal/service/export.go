package service

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

var executionCSVHeader = []string{
	"id", "workflow_name", "status", "timestamp", "duration_ms", "cost_usd", "error_message", "source_table",
}

var conversationCSVHeader = []string{
	"id", "session_id", "source", "timestamp", "project_id", "type", "content",
}

// WriteExecutionsCSV writes records as CSV with a header row.
func WriteExecutionsCSV(w io.Writer, records []domain.ExecutionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(executionCSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.WorkflowName,
			r.Status,
			r.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.DurationMS, 'f', -1, 64),
			strconv.FormatFloat(r.CostUSD, 'f', -1, 64),
			deref(r.ErrorMessage),
			r.SourceTable,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteConversationsCSV writes messages as CSV, with each message parsed
// into its display type and content.
func WriteConversationsCSV(w io.Writer, msgs []domain.ConversationMessage) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(conversationCSVHeader); err != nil {
		return err
	}
	for _, m := range msgs {
		parsed := ParseMessage(m.Message)
		ts := deref(m.Timestamp)
		if ts == "" {
			ts = parsed.Timestamp
		}
		row := []string{
			m.ID,
			m.GroupKey(),
			m.Source,
			ts,
			deref(m.ProjectID),
			parsed.Type,
			parsed.Content,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
