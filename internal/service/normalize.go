package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// placeholderDurationMS is reported for sources that do not record a duration.
const placeholderDurationMS = 1000

// ToExecutionRecord maps one source row to the normalized record. index is
// the row's position in its fetch, used as id when a generic row has none.
// now is the fetch time, used when the source has no timestamp.
func ToExecutionRecord(row domain.SourceRow, index int, now time.Time) domain.ExecutionRecord {
	switch r := row.(type) {
	case domain.ExecutionRow:
		return fromExecutionRow(r, now)
	case domain.MulchRow:
		return domain.ExecutionRecord{
			ID:                 r.ID.String(),
			WorkflowName:       fmt.Sprintf("Mulch Entry %s", r.ID),
			Status:             domain.StatusSuccess,
			Timestamp:          now,
			DurationMS:         placeholderDurationMS,
			SourceTable:        domain.TableMulch,
			TimestampSynthetic: true,
		}
	case domain.ChatHistoryRow:
		ts, synthetic := parseTimestamp(deref(r.CreatedAt), now)
		return domain.ExecutionRecord{
			ID:                 r.ID.String(),
			WorkflowName:       fmt.Sprintf("Chat History %s", r.ID),
			Status:             domain.StatusSuccess,
			Timestamp:          ts,
			DurationMS:         placeholderDurationMS,
			SourceTable:        domain.TableChatHistories,
			TimestampSynthetic: synthetic,
		}
	case domain.ChatMessageRow:
		ts, synthetic := parseTimestamp(deref(r.CreatedAt), now)
		return domain.ExecutionRecord{
			ID:                 r.ID.String(),
			WorkflowName:       fmt.Sprintf("Chat Message %s", r.ID),
			Status:             domain.StatusSuccess,
			Timestamp:          ts,
			DurationMS:         placeholderDurationMS,
			SourceTable:        domain.TableChatMessage,
			TimestampSynthetic: synthetic,
		}
	case domain.GenericRow:
		return fromGenericRow(r, index, now)
	}
	panic(fmt.Sprintf("unhandled source row %T", row))
}

func fromExecutionRow(r domain.ExecutionRow, now time.Time) domain.ExecutionRecord {
	ts, synthetic := parseTimestamp(r.Timestamp, now)
	rec := domain.ExecutionRecord{
		ID:                 r.ID.String(),
		WorkflowName:       r.WorkflowName,
		Status:             r.Status,
		Timestamp:          ts,
		ErrorMessage:       r.ErrorMessage,
		SourceTable:        domain.TableExecutions,
		TimestampSynthetic: synthetic,
	}
	if r.DurationMS != nil && *r.DurationMS > 0 {
		rec.DurationMS = *r.DurationMS
	}
	if r.CostUSD != nil {
		rec.CostUSD = *r.CostUSD
	}
	return rec
}

func fromGenericRow(r domain.GenericRow, index int, now time.Time) domain.ExecutionRecord {
	id := r.StringField("id")
	if id == "" {
		id = strconv.Itoa(index)
	}
	raw := r.StringField("created_at")
	if raw == "" {
		raw = r.StringField("timestamp")
	}
	ts, synthetic := parseTimestamp(raw, now)
	return domain.ExecutionRecord{
		ID:                 id,
		WorkflowName:       capitalize(r.Table) + " Entry",
		Status:             domain.StatusSuccess,
		Timestamp:          ts,
		DurationMS:         placeholderDurationMS,
		SourceTable:        r.Table,
		TimestampSynthetic: synthetic,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// parseTimestamp reads the timestamp formats Postgres and PostgREST emit.
// An empty or unreadable value yields (now, true).
func parseTimestamp(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), false
		}
	}
	return now, true
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
