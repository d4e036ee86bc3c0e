package dto

import (
	"time"

	"github.com/feedbridge/backend/internal/domain/shared"
)

// OutboxRecordResponse is the API view of an outbox record
type OutboxRecordResponse struct {
	ID            string     `json:"id"`
	Lane          string     `json:"lane"`
	SourceEvent   string     `json:"source_event"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	ModelID       string     `json:"model_id"`
	ChannelID     string     `json:"channel_id"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	LastError     string     `json:"last_error,omitempty"`
	HTTPStatus    int        `json:"http_status,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// FromOutboxRecord maps a domain record to its API representation
func FromOutboxRecord(r *shared.OutboxRecord) OutboxRecordResponse {
	return OutboxRecordResponse{
		ID:            r.ID.String(),
		Lane:          r.Lane.String(),
		SourceEvent:   r.SourceEvent,
		EntityType:    string(r.EntityType),
		EntityID:      r.EntityID.String(),
		ModelID:       r.ModelID.String(),
		ChannelID:     r.ChannelID.String(),
		Status:        string(r.Status),
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		LastError:     r.LastError,
		HTTPStatus:    r.HTTPStatus,
		NextAttemptAt: r.NextAttemptAt,
		ProcessedAt:   r.ProcessedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// FromOutboxRecords maps a page of domain records
func FromOutboxRecords(records []*shared.OutboxRecord) []OutboxRecordResponse {
	out := make([]OutboxRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, FromOutboxRecord(r))
	}
	return out
}

// OutboxStatsResponse reports record counts per delivery status
type OutboxStatsResponse struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Success    int64 `json:"success"`
	Error      int64 `json:"error"`
	Failed     int64 `json:"failed"`
}

// FromOutboxStats maps per-status counts to the stats response
func FromOutboxStats(counts map[shared.OutboxStatus]int64) OutboxStatsResponse {
	return OutboxStatsResponse{
		Pending:    counts[shared.OutboxStatusPending],
		Processing: counts[shared.OutboxStatusProcessing],
		Success:    counts[shared.OutboxStatusSuccess],
		Error:      counts[shared.OutboxStatusError],
		Failed:     counts[shared.OutboxStatusFailed],
	}
}
