package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Lane is an independent delivery track. Lanes fail independently so that,
// for example, a price-endpoint outage on one channel does not block content
// delivery.
type Lane string

const (
	LaneContent Lane = "content_updated"
	LanePrice   Lane = "price_updated"
	LaneStock   Lane = "stock_updated"
)

// AllLanes returns every delivery lane in processing order
func AllLanes() []Lane {
	return []Lane{LaneContent, LanePrice, LaneStock}
}

// IsValid returns true if the lane is a known delivery lane
func (l Lane) IsValid() bool {
	switch l {
	case LaneContent, LanePrice, LaneStock:
		return true
	default:
		return false
	}
}

// String returns the string representation of the lane
func (l Lane) String() string {
	return string(l)
}

// EntityType identifies the catalog entity an outbox record refers to
type EntityType string

const (
	EntityTypeModel   EntityType = "model"
	EntityTypeVariant EntityType = "variant"
)

// OutboxStatus represents the delivery status of an outbox record
type OutboxStatus string

const (
	// OutboxStatusPending means the record is waiting to be claimed by a worker
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusProcessing means a worker has claimed the record
	OutboxStatusProcessing OutboxStatus = "processing"
	// OutboxStatusSuccess means the delivery completed
	OutboxStatusSuccess OutboxStatus = "success"
	// OutboxStatusError means a transient failure occurred; the record returns
	// to pending once its backoff delay elapses
	OutboxStatusError OutboxStatus = "error"
	// OutboxStatusFailed is terminal: either the attempt ceiling was reached or
	// the destination rejected the payload. Never retried automatically.
	OutboxStatusFailed OutboxStatus = "failed"
)

// Default retry configuration
const (
	DefaultMaxRetries     = 5
	DefaultBackoffBase    = 2 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
	DefaultStaleThreshold = 10 * time.Minute
)

// BackoffPolicy computes the delay before a transient failure becomes
// claimable again: delay = min(Max, Base * 2^attempt).
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoffPolicy returns the default exponential backoff policy
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: DefaultBackoffBase, Max: DefaultBackoffMax}
}

// Delay returns the backoff delay for the given attempt number (1-indexed)
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Guard the shift against overflow for large attempt counts.
	if attempt > 32 {
		return p.Max
	}
	d := p.Base << uint(attempt-1)
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// OutboxRecord is one pending outbound change for one (entity, lane, channel).
// Records are an audit trail: the pipeline never deletes them, it only moves
// them through the status machine.
type OutboxRecord struct {
	ID          uuid.UUID
	Lane        Lane
	SourceEvent string
	EntityType  EntityType
	EntityID    uuid.UUID
	ModelID     uuid.UUID
	ChannelID   uuid.UUID
	// Sequence increases monotonically per (entity, lane) so workers can
	// discard records superseded by a newer pending change.
	Sequence      int64
	Status        OutboxStatus
	RetryCount    int
	MaxRetries    int
	LastError     string
	HTTPStatus    int
	PayloadDump   []byte
	NextAttemptAt *time.Time
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOutboxRecord creates a pending outbox record for one lane of a change
func NewOutboxRecord(lane Lane, sourceEvent string, entityType EntityType, entityID, modelID, channelID uuid.UUID) *OutboxRecord {
	now := time.Now()
	return &OutboxRecord{
		ID:          uuid.New(),
		Lane:        lane,
		SourceEvent: sourceEvent,
		EntityType:  entityType,
		EntityID:    entityID,
		ModelID:     modelID,
		ChannelID:   channelID,
		Status:      OutboxStatusPending,
		RetryCount:  0,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkProcessing marks the record as claimed by a worker
func (r *OutboxRecord) MarkProcessing() error {
	if r.Status != OutboxStatusPending {
		return errors.New("outbox: only pending records can be claimed")
	}
	r.Status = OutboxStatusProcessing
	r.UpdatedAt = time.Now()
	return nil
}

// MarkSuccess marks the record as delivered
func (r *OutboxRecord) MarkSuccess() {
	now := time.Now()
	r.Status = OutboxStatusSuccess
	r.ProcessedAt = &now
	r.UpdatedAt = now
}

// MarkSkipped marks the record as resolved without a delivery, recording why
// (entity not eligible for the channel, or superseded by a newer sequence).
func (r *OutboxRecord) MarkSkipped(reason string) {
	r.LastError = reason
	r.MarkSuccess()
}

// MarkTransientFailure records a retryable failure. The retry count increments
// and the record enters error status with a backoff delay; once the attempt
// ceiling is reached the record is forced to failed instead of retrying
// forever.
func (r *OutboxRecord) MarkTransientFailure(errMsg string, policy BackoffPolicy) {
	r.RetryCount++
	r.LastError = errMsg
	r.UpdatedAt = time.Now()

	if r.RetryCount >= r.MaxRetries {
		now := time.Now()
		r.Status = OutboxStatusFailed
		r.ProcessedAt = &now
		return
	}

	r.Status = OutboxStatusError
	next := time.Now().Add(policy.Delay(r.RetryCount))
	r.NextAttemptAt = &next
}

// MarkTransientFailureAfter is MarkTransientFailure with a channel-dictated
// delay (e.g. a Retry-After header) overriding the computed backoff when it
// is longer.
func (r *OutboxRecord) MarkTransientFailureAfter(errMsg string, policy BackoffPolicy, retryAfter time.Duration) {
	r.MarkTransientFailure(errMsg, policy)
	if r.Status != OutboxStatusError || retryAfter <= 0 {
		return
	}
	next := time.Now().Add(retryAfter)
	if r.NextAttemptAt == nil || next.After(*r.NextAttemptAt) {
		r.NextAttemptAt = &next
	}
}

// MarkValidationFailure records a terminal rejection: the destination refused
// the payload as structurally wrong, so retrying unchanged data cannot
// succeed. The retry count is not touched and the rejected payload is kept
// for operator inspection.
func (r *OutboxRecord) MarkValidationFailure(httpStatus int, errMsg string, payloadDump []byte) {
	now := time.Now()
	r.Status = OutboxStatusFailed
	r.LastError = errMsg
	r.HTTPStatus = httpStatus
	r.PayloadDump = payloadDump
	r.ProcessedAt = &now
	r.UpdatedAt = now
}

// ResetForRetry resets a failed record for another delivery attempt.
// Operator-initiated only; the pipeline never does this automatically.
func (r *OutboxRecord) ResetForRetry() error {
	if r.Status != OutboxStatusFailed {
		return errors.New("outbox: only failed records can be reset for retry")
	}
	r.Status = OutboxStatusPending
	r.RetryCount = 0
	r.LastError = ""
	r.HTTPStatus = 0
	r.NextAttemptAt = nil
	r.ProcessedAt = nil
	r.UpdatedAt = time.Now()
	return nil
}

// IsTerminal returns true if the record will never be processed again
func (r *OutboxRecord) IsTerminal() bool {
	return r.Status == OutboxStatusSuccess || r.Status == OutboxStatusFailed
}

// OutboxRepository defines the persistence port for outbox records
type OutboxRepository interface {
	// Append persists records in pending status. A record whose
	// (entity, lane, channel, source event) already has a pending twin is
	// coalesced into it rather than duplicated. Sequence numbers are assigned
	// monotonically per (entity, lane).
	Append(ctx context.Context, records ...*OutboxRecord) error

	// ClaimBatch atomically converts up to limit pending records of one lane
	// to processing and returns them. No two concurrent callers receive the
	// same record.
	ClaimBatch(ctx context.Context, lane Lane, limit int) ([]*OutboxRecord, error)

	// RequeueDue returns error-status records whose backoff delay has elapsed
	// to pending, making them claimable again
	RequeueDue(ctx context.Context, now time.Time) (int64, error)

	// ReclaimStale returns processing records older than the threshold to
	// pending. Covers workers that crashed mid-batch.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)

	// HasNewerPending reports whether a record with a higher sequence for the
	// same (entity, lane, channel) is waiting, meaning the given record is
	// stale and may be skipped
	HasNewerPending(ctx context.Context, record *OutboxRecord) (bool, error)

	// Update persists status-machine transitions made on the record
	Update(ctx context.Context, record *OutboxRecord) error

	// FindByID retrieves a single record
	FindByID(ctx context.Context, id uuid.UUID) (*OutboxRecord, error)

	// FindDead retrieves failed records with pagination, newest first
	FindDead(ctx context.Context, page, pageSize int) ([]*OutboxRecord, int64, error)

	// CountByStatus returns record counts per status
	CountByStatus(ctx context.Context) (map[OutboxStatus]int64, error)
}
