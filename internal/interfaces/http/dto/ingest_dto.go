package dto

import (
	"time"

	"github.com/feedbridge/backend/internal/application/ingest"
)

// IngestRequest asks the server to run one supplier feed file through the
// ingestion pipeline
type IngestRequest struct {
	SupplierID string `json:"supplier_id" binding:"required,uuid"`
	Path       string `json:"path" binding:"required"`
}

// IngestAcceptedResponse acknowledges an asynchronous feed run
type IngestAcceptedResponse struct {
	SupplierID string `json:"supplier_id"`
	Path       string `json:"path"`
	Status     string `json:"status"`
}

// IngestReportResponse is the API view of a completed feed run
type IngestReportResponse struct {
	RunID       string         `json:"run_id"`
	SupplierID  string         `json:"supplier_id"`
	TotalParsed int            `json:"total_parsed"`
	Skipped     int            `json:"skipped"`
	Errors      int            `json:"errors"`
	Emitted     int            `json:"emitted"`
	Created     int            `json:"created"`
	Updated     int            `json:"updated"`
	Unchanged   int            `json:"unchanged"`
	Failed      int            `json:"failed"`
	MatchedBy   map[string]int `json:"matched_by"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMS  int64          `json:"duration_ms"`
}

// FromIngestReport maps a run report to its API representation
func FromIngestReport(r *ingest.Report) IngestReportResponse {
	matchedBy := make(map[string]int, len(r.MatchedBy))
	for name, count := range r.MatchedBy {
		matchedBy[string(name)] = count
	}
	return IngestReportResponse{
		RunID:       r.RunID.String(),
		SupplierID:  r.SupplierID.String(),
		TotalParsed: r.Stats.TotalParsed,
		Skipped:     r.Stats.Skipped,
		Errors:      r.Stats.Errors,
		Emitted:     r.Stats.Emitted,
		Created:     r.Created,
		Updated:     r.Updated,
		Unchanged:   r.Unchanged,
		Failed:      r.Failed,
		MatchedBy:   matchedBy,
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration.Milliseconds(),
	}
}
