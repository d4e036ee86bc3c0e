// Package syndication drains the outbox: per-lane worker loops claim pending
// records, project them through the channel drivers and walk each record
// through the delivery status machine.
package syndication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/channel"
	"github.com/feedbridge/backend/internal/domain/shared"
	"github.com/feedbridge/backend/internal/infrastructure/telemetry"
)

// Options tunes the worker loops
type Options struct {
	// BatchSize is how many records one lane cycle claims
	BatchSize int
	// PollInterval is the idle delay between lane cycles
	PollInterval time.Duration
	// Backoff is the transient-failure retry policy
	Backoff shared.BackoffPolicy
	// StaleThreshold is how long a processing claim may sit before the
	// reaper assumes its worker died and returns it to pending
	StaleThreshold time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.Backoff.Base <= 0 || o.Backoff.Max <= 0 {
		o.Backoff = shared.DefaultBackoffPolicy()
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = shared.DefaultStaleThreshold
	}
}

// Worker runs one delivery loop per lane plus a stale-claim reaper.
// Multiple workers are safe against the same database: claims are exclusive
// and every state transition is persisted through the repository.
type Worker struct {
	repo     shared.OutboxRepository
	channels channel.Repository
	registry channel.Registry
	archiver *DeadLetterArchiver
	opts     Options
	logger   *zap.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker creates a syndication worker. The archiver may be nil when no
// object storage is configured; dead letters then live only on the record.
func NewWorker(
	repo shared.OutboxRepository,
	channels channel.Repository,
	registry channel.Registry,
	archiver *DeadLetterArchiver,
	opts Options,
	logger *zap.Logger,
) *Worker {
	opts.applyDefaults()
	return &Worker{
		repo:     repo,
		channels: channels,
		registry: registry,
		archiver: archiver,
		opts:     opts,
		logger:   logger.Named("syndication"),
	}
}

// Start launches the lane loops and the reaper
func (w *Worker) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("syndication: worker already started")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	for _, lane := range shared.AllLanes() {
		w.wg.Add(1)
		go w.laneLoop(ctx, lane)
	}
	w.wg.Add(1)
	go w.reaperLoop(ctx)

	w.logger.Info("syndication worker started",
		zap.Int("batch_size", w.opts.BatchSize),
		zap.Duration("poll_interval", w.opts.PollInterval),
	)
	return nil
}

// Stop cancels the loops and waits for the current batches to finish
func (w *Worker) Stop(ctx context.Context) error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("syndication worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("syndication: shutdown timed out: %w", ctx.Err())
	}
}

func (w *Worker) laneLoop(ctx context.Context, lane shared.Lane) {
	defer w.wg.Done()
	logger := w.logger.With(zap.String("lane", lane.String()))

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.runCycle(ctx, lane); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("lane cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) reaperLoop(ctx context.Context) {
	defer w.wg.Done()

	interval := w.opts.StaleThreshold / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := w.repo.ReclaimStale(ctx, time.Now().Add(-w.opts.StaleThreshold))
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("stale claim reclaim failed", zap.Error(err))
				continue
			}
			if reclaimed > 0 {
				w.logger.Warn("reclaimed stale claims", zap.Int64("count", reclaimed))
			}
		}
	}
}

// runCycle performs one claim-project-push pass for a lane
func (w *Worker) runCycle(ctx context.Context, lane shared.Lane) error {
	if _, err := w.repo.RequeueDue(ctx, time.Now()); err != nil {
		return fmt.Errorf("requeue due records: %w", err)
	}

	records, err := w.repo.ClaimBatch(ctx, lane, w.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	live, err := w.dropSuperseded(ctx, records)
	if err != nil {
		return err
	}

	byChannel := make(map[uuid.UUID][]*shared.OutboxRecord)
	for _, record := range live {
		byChannel[record.ChannelID] = append(byChannel[record.ChannelID], record)
	}
	for channelID, group := range byChannel {
		if err := w.deliverGroup(ctx, lane, channelID, group); err != nil {
			return err
		}
	}
	return nil
}

// dropSuperseded resolves records a newer pending sequence has overtaken.
// Delivering them would push stale state over fresher data.
func (w *Worker) dropSuperseded(ctx context.Context, records []*shared.OutboxRecord) ([]*shared.OutboxRecord, error) {
	live := records[:0]
	for _, record := range records {
		newer, err := w.repo.HasNewerPending(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("check superseding record: %w", err)
		}
		if !newer {
			live = append(live, record)
			continue
		}
		record.MarkSkipped("superseded by a newer pending change")
		if err := w.repo.Update(ctx, record); err != nil {
			return nil, fmt.Errorf("resolve superseded record: %w", err)
		}
	}
	return live, nil
}

// deliverGroup delivers one channel's share of a lane batch
func (w *Worker) deliverGroup(ctx context.Context, lane shared.Lane, channelID uuid.UUID, records []*shared.OutboxRecord) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "syndication", "deliver",
		telemetry.WithAttribute("lane", lane.String()),
		telemetry.WithAttribute("channel_id", channelID.String()),
		telemetry.WithAttribute("batch_size", len(records)),
	)
	defer span.End()

	ch, err := w.channels.FindByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return w.skipAll(ctx, records, "channel no longer exists")
		}
		return fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if !ch.Active {
		return w.skipAll(ctx, records, "channel is inactive")
	}

	projector, err := w.registry.GetSyndicator(ch)
	if err != nil {
		return w.failAll(ctx, records, err)
	}
	transport, err := w.registry.GetAPIClient(ch)
	if err != nil {
		return w.failAll(ctx, records, err)
	}

	switch lane {
	case shared.LaneContent:
		return w.deliverContent(ctx, ch, projector, transport, records)
	case shared.LanePrice, shared.LaneStock:
		return w.deliverBatchLane(ctx, lane, ch, projector, transport, records)
	default:
		return w.skipAll(ctx, records, fmt.Sprintf("unknown lane %q", lane))
	}
}

// deliverContent projects each model and pushes the batch, resolving every
// record by its model's outcome
func (w *Worker) deliverContent(ctx context.Context, ch *channel.SalesChannel, projector channel.Projector, transport channel.Transport, records []*shared.OutboxRecord) error {
	byModel := make(map[uuid.UUID][]*shared.OutboxRecord)
	order := make([]uuid.UUID, 0, len(records))
	for _, record := range records {
		if _, seen := byModel[record.ModelID]; !seen {
			order = append(order, record.ModelID)
		}
		byModel[record.ModelID] = append(byModel[record.ModelID], record)
	}

	projections := make(map[uuid.UUID]*channel.Projection)
	for _, modelID := range order {
		projection, err := projector.BuildProjection(ctx, modelID, ch)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				// The model was deleted after the change was recorded.
				if err := w.skipAll(ctx, byModel[modelID], "model no longer exists"); err != nil {
					return err
				}
				delete(byModel, modelID)
				continue
			}
			return fmt.Errorf("project model %s: %w", modelID, err)
		}
		if projection == nil {
			if err := w.skipAll(ctx, byModel[modelID], "not eligible for channel"); err != nil {
				return err
			}
			delete(byModel, modelID)
			continue
		}
		projections[modelID] = projection
	}
	if len(projections) == 0 {
		return nil
	}

	results, err := transport.PushBatch(ctx, projections, ch)
	if err != nil {
		// The whole batch never left; every record shares the outcome.
		for modelID := range projections {
			for _, record := range byModel[modelID] {
				if applyErr := w.applyOutcome(ctx, ch, record, err, projections[modelID]); applyErr != nil {
					return applyErr
				}
			}
		}
		return nil
	}
	for modelID, outcome := range results {
		for _, record := range byModel[modelID] {
			if err := w.applyOutcome(ctx, ch, record, outcome, projections[modelID]); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliverBatchLane builds one price or stock batch for the group and lets
// every record share the delivery outcome
func (w *Worker) deliverBatchLane(ctx context.Context, lane shared.Lane, ch *channel.SalesChannel, projector channel.Projector, transport channel.Transport, records []*shared.OutboxRecord) error {
	modelIDs := make([]uuid.UUID, 0, len(records))
	seen := make(map[uuid.UUID]bool, len(records))
	for _, record := range records {
		if !seen[record.ModelID] {
			seen[record.ModelID] = true
			modelIDs = append(modelIDs, record.ModelID)
		}
	}

	var outcome error
	switch lane {
	case shared.LanePrice:
		items, err := projector.BuildPriceItems(ctx, modelIDs, ch)
		if err != nil {
			return fmt.Errorf("build price batch: %w", err)
		}
		if len(items) == 0 {
			return w.skipAll(ctx, records, "no items eligible for channel")
		}
		outcome = transport.PushPrices(ctx, items, ch)
	case shared.LaneStock:
		items, err := projector.BuildStockItems(ctx, modelIDs, ch)
		if err != nil {
			return fmt.Errorf("build stock batch: %w", err)
		}
		if len(items) == 0 {
			return w.skipAll(ctx, records, "no items eligible for channel")
		}
		outcome = transport.PushStocks(ctx, items, ch)
	}

	for _, record := range records {
		if err := w.applyOutcome(ctx, ch, record, outcome, nil); err != nil {
			return err
		}
	}
	return nil
}

// applyOutcome walks one record through the status machine for a delivery
// result and persists the transition
func (w *Worker) applyOutcome(ctx context.Context, ch *channel.SalesChannel, record *shared.OutboxRecord, outcome error, projection *channel.Projection) error {
	logger := w.logger.With(
		zap.String("record_id", record.ID.String()),
		zap.String("lane", record.Lane.String()),
		zap.String("channel", ch.Name),
	)

	switch {
	case outcome == nil:
		record.MarkSuccess()

	case channel.IsTransient(outcome):
		te, _ := channel.AsTransient(outcome)
		record.MarkTransientFailureAfter(outcome.Error(), w.opts.Backoff, te.RetryAfter)
		logger.Warn("delivery failed, will retry",
			zap.Int("retry_count", record.RetryCount),
			zap.Error(outcome),
		)

	default:
		if ve, ok := channel.AsValidation(outcome); ok {
			record.MarkValidationFailure(ve.StatusCode, ve.Message, ve.PayloadDump)
		} else {
			// Unclassified errors (projection reads, encoding) are treated
			// as retryable rather than silently dead-lettered.
			record.MarkTransientFailure(outcome.Error(), w.opts.Backoff)
			logger.Warn("delivery failed, will retry",
				zap.Int("retry_count", record.RetryCount),
				zap.Error(outcome),
			)
			return w.repo.Update(ctx, record)
		}
		if record.PayloadDump == nil && projection != nil {
			record.PayloadDump = projection.Payload
		}
		logger.Error("delivery rejected, dead-lettering",
			zap.Int("http_status", record.HTTPStatus),
			zap.Error(outcome),
		)
		if err := w.archiver.Archive(ctx, record); err != nil {
			// The record keeps the dump; archival is best effort.
			logger.Error("dead letter archival failed", zap.Error(err))
		}
	}

	return w.repo.Update(ctx, record)
}

func (w *Worker) skipAll(ctx context.Context, records []*shared.OutboxRecord, reason string) error {
	return w.resolveAll(ctx, records, func(r *shared.OutboxRecord) {
		r.MarkSkipped(reason)
	})
}

// failAll handles configuration errors: retries cannot help until an
// operator fixes the channel, so records go through the transient path and
// reach failed at the attempt ceiling.
func (w *Worker) failAll(ctx context.Context, records []*shared.OutboxRecord, cause error) error {
	return w.resolveAll(ctx, records, func(r *shared.OutboxRecord) {
		r.MarkTransientFailure(cause.Error(), w.opts.Backoff)
	})
}

func (w *Worker) resolveAll(ctx context.Context, records []*shared.OutboxRecord, transition func(*shared.OutboxRecord)) error {
	for _, record := range records {
		transition(record)
		if err := w.repo.Update(ctx, record); err != nil {
			return fmt.Errorf("persist record transition: %w", err)
		}
	}
	return nil
}
