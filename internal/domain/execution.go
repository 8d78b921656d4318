package domain

import (
	"fmt"
	"time"
)

// ============================================================
// Execution records & KPIs
// ============================================================

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusFailed  = "failed"
	StatusRunning = "running"
)

// ExecutionRecord is the normalized record produced by the aggregator.
// Never persisted by this service.
type ExecutionRecord struct {
	ID           string    `json:"id"`
	WorkflowName string    `json:"workflow_name"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMS   float64   `json:"duration_ms"`
	CostUSD      float64   `json:"cost_usd"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	SourceTable  string    `json:"source_table,omitempty"`

	// TimestampSynthetic marks records whose source has no timestamp
	// column; Timestamp then holds the fetch time.
	TimestampSynthetic bool `json:"timestamp_synthetic,omitempty"`
}

// IsFailure reports whether the status counts as a failed operation.
func (r ExecutionRecord) IsFailure() bool {
	return r.Status == StatusError || r.Status == StatusFailed
}

// KPISummary is a pure function of the current record set.
type KPISummary struct {
	TotalProcessed    int       `json:"totalProcessed"`
	SuccessRate       float64   `json:"successRate"`
	FailedOps         int       `json:"failedOps"`
	LastUpdate        time.Time `json:"lastUpdate"`
	AvgProcessingTime float64   `json:"avgProcessingTime"`
	// DataVolume is an estimate in MB, not a measurement.
	DataVolume float64 `json:"dataVolume"`
}

// SourceOutcome reports how one physical table fared during an aggregation pass.
type SourceOutcome struct {
	Table string `json:"table"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// Failed reports whether the fetch of this table failed.
func (o SourceOutcome) Failed() bool { return o.Err != nil }

// ExecutionResult is the output of one aggregation pass.
type ExecutionResult struct {
	Records []ExecutionRecord `json:"records"`
	KPIs    KPISummary        `json:"kpis"`
	Sources []SourceOutcome   `json:"sources"`
	// Partial is set when some, but not all, tables failed.
	Partial bool `json:"partial"`
}

// TimelinePoint is one day bucket of the execution timeline chart.
type TimelinePoint struct {
	Date    string `json:"date"`
	Count   int    `json:"count"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
}

// StatusSlice is one slice of the success/failed breakdown.
type StatusSlice struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// ============================================================
// Date range
// ============================================================

const dateLayout = "2006-01-02"

// DateRange is an inclusive calendar-day range, interpreted in UTC.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DefaultDateRange is the last 30 days ending today.
func DefaultDateRange(now time.Time) DateRange {
	now = now.UTC()
	return DateRange{
		From: truncateDay(now.AddDate(0, 0, -30)),
		To:   truncateDay(now),
	}
}

// ParseDateRange parses YYYY-MM-DD bounds. Empty values fall back to the default range.
func ParseDateRange(from, to string, now time.Time) (DateRange, error) {
	r := DefaultDateRange(now)
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return DateRange{}, &ErrValidation{Field: "from", Message: "expected YYYY-MM-DD"}
		}
		r.From = t
	}
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return DateRange{}, &ErrValidation{Field: "to", Message: "expected YYYY-MM-DD"}
		}
		r.To = t
	}
	if r.From.After(r.To) {
		return DateRange{}, &ErrValidation{Field: "from", Message: "must not be after 'to'"}
	}
	return r, nil
}

// Start is the first instant of the range (00:00:00Z).
func (r DateRange) Start() time.Time {
	return truncateDay(r.From)
}

// End is the last whole second of the range (23:59:59Z).
func (r DateRange) End() time.Time {
	return truncateDay(r.To).Add(24*time.Hour - time.Second)
}

// Contains reports whether t lies within [Start, End].
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start()) && !t.After(r.End())
}

// Key identifies the range for selection-stability comparisons.
func (r DateRange) Key() string {
	return fmt.Sprintf("%s..%s", r.From.Format(dateLayout), r.To.Format(dateLayout))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
