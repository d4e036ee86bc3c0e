package shared

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord() *OutboxRecord {
	return NewOutboxRecord(LanePrice, "variant.price_changed", EntityTypeVariant, uuid.New(), uuid.New(), uuid.New())
}

func TestNewOutboxRecord(t *testing.T) {
	rec := newTestRecord()

	assert.Equal(t, OutboxStatusPending, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, DefaultMaxRetries, rec.MaxRetries)
	assert.Nil(t, rec.NextAttemptAt)
	assert.Nil(t, rec.ProcessedAt)
}

func TestOutboxRecord_MarkProcessing(t *testing.T) {
	rec := newTestRecord()

	require.NoError(t, rec.MarkProcessing())
	assert.Equal(t, OutboxStatusProcessing, rec.Status)

	// Only pending records are claimable
	err := rec.MarkProcessing()
	assert.Error(t, err)
}

func TestOutboxRecord_MarkSuccess(t *testing.T) {
	rec := newTestRecord()
	require.NoError(t, rec.MarkProcessing())

	rec.MarkSuccess()

	assert.Equal(t, OutboxStatusSuccess, rec.Status)
	require.NotNil(t, rec.ProcessedAt)
	assert.True(t, rec.IsTerminal())
}

func TestOutboxRecord_MarkTransientFailure_Backoff(t *testing.T) {
	policy := BackoffPolicy{Base: time.Second, Max: time.Minute}
	rec := newTestRecord()
	require.NoError(t, rec.MarkProcessing())

	before := time.Now()
	rec.MarkTransientFailure("connect timeout", policy)

	assert.Equal(t, OutboxStatusError, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, "connect timeout", rec.LastError)
	require.NotNil(t, rec.NextAttemptAt)

	// Attempt 1 schedules no earlier than base * 2^0
	assert.False(t, rec.NextAttemptAt.Before(before.Add(policy.Delay(1))))
}

func TestOutboxRecord_MarkTransientFailure_AttemptCeiling(t *testing.T) {
	policy := DefaultBackoffPolicy()
	rec := newTestRecord()
	rec.MaxRetries = 3

	for i := 0; i < 2; i++ {
		rec.MarkTransientFailure("HTTP 503", policy)
		assert.Equal(t, OutboxStatusError, rec.Status)
	}

	// Third transient failure hits the ceiling and forces failed, not pending
	rec.MarkTransientFailure("HTTP 503", policy)
	assert.Equal(t, OutboxStatusFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.True(t, rec.IsTerminal())
}

func TestOutboxRecord_MarkTransientFailureAfter_RespectsRetryAfter(t *testing.T) {
	policy := BackoffPolicy{Base: time.Second, Max: time.Minute}
	rec := newTestRecord()

	rec.MarkTransientFailureAfter("HTTP 429", policy, 30*time.Second)

	require.NotNil(t, rec.NextAttemptAt)
	assert.False(t, rec.NextAttemptAt.Before(time.Now().Add(29*time.Second)))
}

func TestOutboxRecord_MarkValidationFailure(t *testing.T) {
	rec := newTestRecord()
	require.NoError(t, rec.MarkProcessing())

	dump := []byte(`{"title":""}`)
	rec.MarkValidationFailure(422, "title must not be empty", dump)

	assert.Equal(t, OutboxStatusFailed, rec.Status)
	// Validation failures never increment the retry count
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, 422, rec.HTTPStatus)
	assert.Equal(t, dump, rec.PayloadDump)
	require.NotNil(t, rec.ProcessedAt)
}

func TestOutboxRecord_ResetForRetry(t *testing.T) {
	rec := newTestRecord()
	rec.MarkValidationFailure(400, "bad payload", nil)

	require.NoError(t, rec.ResetForRetry())
	assert.Equal(t, OutboxStatusPending, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Empty(t, rec.LastError)

	// Only failed records can be reset
	assert.Error(t, rec.ResetForRetry())
}

func TestBackoffPolicy_Delay(t *testing.T) {
	policy := BackoffPolicy{Base: time.Second, Max: 30 * time.Second}

	assert.Equal(t, time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 4*time.Second, policy.Delay(3))
	assert.Equal(t, 16*time.Second, policy.Delay(5))
	// Capped at Max
	assert.Equal(t, 30*time.Second, policy.Delay(6))
	assert.Equal(t, 30*time.Second, policy.Delay(64))
}

func TestLane_IsValid(t *testing.T) {
	assert.True(t, LaneContent.IsValid())
	assert.True(t, LanePrice.IsValid())
	assert.True(t, LaneStock.IsValid())
	assert.False(t, Lane("orders_updated").IsValid())
}
