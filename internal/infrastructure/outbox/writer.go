package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/channel"
	"github.com/feedbridge/backend/internal/domain/shared"
)

// Writer turns catalog change results into pending outbox records: one per
// affected lane per active sales channel. Channels that come and go between
// passes are picked up naturally because the fan-out reads the active set on
// every write.
type Writer struct {
	repo       shared.OutboxRepository
	channels   channel.Repository
	maxRetries int
	logger     *zap.Logger
}

// NewWriter creates an outbox writer
func NewWriter(repo shared.OutboxRepository, channels channel.Repository, maxRetries int, logger *zap.Logger) *Writer {
	if maxRetries < 1 {
		maxRetries = shared.DefaultMaxRetries
	}
	return &Writer{
		repo:       repo,
		channels:   channels,
		maxRetries: maxRetries,
		logger:     logger.Named("outbox-writer"),
	}
}

// WriteChanges appends outbox records for an upsert result. A no-op change
// produces no records. The records are keyed at model granularity: channel
// projections are built per model, so one record per (model, lane, channel)
// covers variant-level changes too.
func (w *Writer) WriteChanges(ctx context.Context, result *catalog.UpsertResult, sourceEvent string) error {
	if result == nil || result.Unchanged || len(result.Lanes) == 0 {
		return nil
	}

	active, err := w.channels.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("outbox: failed to list active channels: %w", err)
	}
	if len(active) == 0 {
		w.logger.Debug("no active channels, skipping outbox fan-out",
			zap.String("model_id", result.IDs.ModelID.String()))
		return nil
	}

	records := make([]*shared.OutboxRecord, 0, len(result.Lanes)*len(active))
	for _, ch := range active {
		for _, lane := range result.Lanes {
			record := shared.NewOutboxRecord(
				lane,
				sourceEvent,
				shared.EntityTypeModel,
				result.IDs.ModelID,
				result.IDs.ModelID,
				ch.ID,
			)
			record.MaxRetries = w.maxRetries
			records = append(records, record)
		}
	}

	if err := w.repo.Append(ctx, records...); err != nil {
		return fmt.Errorf("outbox: failed to append records: %w", err)
	}

	w.logger.Debug("outbox records appended",
		zap.String("model_id", result.IDs.ModelID.String()),
		zap.Int("channels", len(active)),
		zap.Int("records", len(records)),
	)
	return nil
}
