package service

import (
	"sort"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// dataVolumePerRecordMB is the fixed per-record size estimate behind DataVolume.
const dataVolumePerRecordMB = 0.5

// timelineDays is how many most recent day buckets Timeline keeps.
const timelineDays = 30

// ComputeKPIs derives the summary of a record set. records are expected in
// display order (most recent first).
func ComputeKPIs(records []domain.ExecutionRecord, now time.Time) domain.KPISummary {
	total := len(records)
	if total == 0 {
		return domain.KPISummary{LastUpdate: now}
	}

	var success, failed int
	var duration float64
	for _, r := range records {
		switch {
		case r.Status == domain.StatusSuccess:
			success++
		case r.IsFailure():
			failed++
		}
		duration += r.DurationMS
	}

	return domain.KPISummary{
		TotalProcessed:    total,
		SuccessRate:       float64(success) / float64(total) * 100,
		FailedOps:         failed,
		LastUpdate:        records[0].Timestamp,
		AvgProcessingTime: duration / float64(total),
		DataVolume:        dataVolumePerRecordMB * float64(total),
	}
}

// Timeline buckets records per UTC day, ascending, keeping the last 30 days
// that have data.
func Timeline(records []domain.ExecutionRecord) []domain.TimelinePoint {
	buckets := make(map[string]*domain.TimelinePoint)
	for _, r := range records {
		day := r.Timestamp.UTC().Format("2006-01-02")
		p, ok := buckets[day]
		if !ok {
			p = &domain.TimelinePoint{Date: day}
			buckets[day] = p
		}
		p.Count++
		switch {
		case r.Status == domain.StatusSuccess:
			p.Success++
		case r.IsFailure():
			p.Failed++
		}
	}

	points := make([]domain.TimelinePoint, 0, len(buckets))
	for _, p := range buckets {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	if len(points) > timelineDays {
		points = points[len(points)-timelineDays:]
	}
	return points
}

// StatusBreakdown counts successes and failures, omitting empty slices.
func StatusBreakdown(records []domain.ExecutionRecord) []domain.StatusSlice {
	var success, failed int
	for _, r := range records {
		switch {
		case r.Status == domain.StatusSuccess:
			success++
		case r.IsFailure():
			failed++
		}
	}
	out := make([]domain.StatusSlice, 0, 2)
	if success > 0 {
		out = append(out, domain.StatusSlice{Name: "Success", Value: success})
	}
	if failed > 0 {
		out = append(out, domain.StatusSlice{Name: "Failed", Value: failed})
	}
	return out
}
