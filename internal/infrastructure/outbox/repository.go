// Package outbox provides the durable change log between catalog writes and
// channel delivery: the GORM-backed record store and the writer that fans
// catalog changes out per lane and per active channel.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feedbridge/backend/internal/domain/shared"
	"github.com/feedbridge/backend/internal/infrastructure/persistence/models"
)

// GormOutboxRepository implements the outbox persistence port using GORM
type GormOutboxRepository struct {
	db *gorm.DB
}

// NewGormOutboxRepository creates a GORM-based outbox repository
func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *GormOutboxRepository) WithTx(tx *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: tx}
}

// appendMaxAttempts bounds how often Append reruns after losing a sequence
// race to a concurrent writer of the same (entity, lane, channel) key.
const appendMaxAttempts = 3

// Append persists records in pending status. A record whose (entity, lane,
// channel, source event) already has a pending twin is coalesced into it:
// the pending row is touched, no duplicate is created. Sequence numbers are
// assigned monotonically per (entity, lane, channel); the unique index on
// that key plus sequence rejects a raced assignment, and the whole
// transaction reruns so the loser recomputes against the committed maximum.
func (r *GormOutboxRepository) Append(ctx context.Context, records ...*shared.OutboxRecord) error {
	if len(records) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt < appendMaxAttempts; attempt++ {
		err = r.appendOnce(ctx, records)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return fmt.Errorf("failed to append outbox records after %d attempts: %w", appendMaxAttempts, err)
}

func (r *GormOutboxRepository) appendOnce(ctx context.Context, records []*shared.OutboxRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range records {
			var existing models.OutboxRecordRow
			err := tx.
				Where("entity_id = ? AND lane = ? AND channel_id = ? AND source_event = ? AND status = ?",
					record.EntityID, string(record.Lane), record.ChannelID, record.SourceEvent,
					string(shared.OutboxStatusPending)).
				First(&existing).Error
			if err == nil {
				// Same logical change already waiting; coalesce.
				if err := tx.Model(&models.OutboxRecordRow{}).
					Where("id = ?", existing.ID).
					Update("updated_at", time.Now()).Error; err != nil {
					return err
				}
				*record = *existing.ToDomain()
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}

			var maxSeq int64
			if err := tx.Model(&models.OutboxRecordRow{}).
				Where("entity_id = ? AND lane = ? AND channel_id = ?",
					record.EntityID, string(record.Lane), record.ChannelID).
				Select("COALESCE(MAX(sequence), 0)").
				Scan(&maxSeq).Error; err != nil {
				return err
			}
			record.Sequence = maxSeq + 1

			if err := tx.Create(models.OutboxRecordRowFromDomain(record)).Error; err != nil {
				return fmt.Errorf("failed to append outbox record: %w", err)
			}
		}
		return nil
	})
}

// ClaimBatch atomically converts up to limit pending records of one lane to
// processing and returns them. FOR UPDATE SKIP LOCKED plus a conditional
// update guarantee no two concurrent callers receive the same record.
func (r *GormOutboxRepository) ClaimBatch(ctx context.Context, lane shared.Lane, limit int) ([]*shared.OutboxRecord, error) {
	var claimed []*shared.OutboxRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		// sqlite has no row locks and serializes writers anyway; the
		// conditional update below still guards the claim there.
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var rows []models.OutboxRecordRow
		if err := query.
			Where("lane = ? AND status = ?", string(lane), string(shared.OutboxStatusPending)).
			Order("sequence ASC, created_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}

		now := time.Now()
		res := tx.Model(&models.OutboxRecordRow{}).
			Where("id IN ? AND status = ?", ids, string(shared.OutboxStatusPending)).
			Updates(map[string]any{
				"status":     string(shared.OutboxStatusProcessing),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("outbox: claim raced, expected %d rows, got %d", len(ids), res.RowsAffected)
		}

		for i := range rows {
			record := rows[i].ToDomain()
			record.Status = shared.OutboxStatusProcessing
			record.UpdatedAt = now
			claimed = append(claimed, record)
		}
		return nil
	})
	return claimed, err
}

// RequeueDue returns error-status records whose backoff delay has elapsed to
// pending, making them claimable again
func (r *GormOutboxRepository) RequeueDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxRecordRow{}).
		Where("status = ? AND next_attempt_at <= ?", string(shared.OutboxStatusError), now).
		Updates(map[string]any{
			"status":     string(shared.OutboxStatusPending),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// ReclaimStale returns processing records untouched past the threshold to
// pending. Covers workers that crashed mid-batch.
func (r *GormOutboxRepository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxRecordRow{}).
		Where("status = ? AND updated_at < ?", string(shared.OutboxStatusProcessing), olderThan).
		Updates(map[string]any{
			"status":     string(shared.OutboxStatusPending),
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// HasNewerPending reports whether a higher-sequence record for the same
// (entity, lane, channel) is waiting, meaning the given record is stale
func (r *GormOutboxRepository) HasNewerPending(ctx context.Context, record *shared.OutboxRecord) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxRecordRow{}).
		Where("entity_id = ? AND lane = ? AND channel_id = ? AND sequence > ? AND status = ?",
			record.EntityID, string(record.Lane), record.ChannelID, record.Sequence,
			string(shared.OutboxStatusPending)).
		Count(&count).Error
	return count > 0, err
}

// Update persists status-machine transitions made on the record
func (r *GormOutboxRepository) Update(ctx context.Context, record *shared.OutboxRecord) error {
	return r.db.WithContext(ctx).Save(models.OutboxRecordRowFromDomain(record)).Error
}

// FindByID retrieves a single record
func (r *GormOutboxRepository) FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxRecord, error) {
	var row models.OutboxRecordRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: outbox record %s", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindDead retrieves failed records with pagination, newest first
func (r *GormOutboxRepository) FindDead(ctx context.Context, page, pageSize int) ([]*shared.OutboxRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.OutboxRecordRow{}).
		Where("status = ?", string(shared.OutboxStatusFailed)).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.OutboxRecordRow
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(shared.OutboxStatusFailed)).
		Order("updated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	records := make([]*shared.OutboxRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].ToDomain())
	}
	return records, total, nil
}

// CountByStatus returns record counts per status
func (r *GormOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&models.OutboxRecordRow{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&results).Error; err != nil {
		return nil, err
	}

	counts := make(map[shared.OutboxStatus]int64, len(results))
	for _, sc := range results {
		counts[shared.OutboxStatus(sc.Status)] = sc.Count
	}
	return counts, nil
}

var _ shared.OutboxRepository = (*GormOutboxRepository)(nil)
