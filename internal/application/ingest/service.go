// Package ingest orchestrates one feed run: stream the supplier file,
// match every variant against the catalog, apply the writes and hand the
// resulting changes to the outbox.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/feed"
	"github.com/feedbridge/backend/internal/domain/shared"
	"github.com/feedbridge/backend/internal/infrastructure/feedparse"
	"github.com/feedbridge/backend/internal/infrastructure/logger"
	"github.com/feedbridge/backend/internal/infrastructure/matching"
	"github.com/feedbridge/backend/internal/infrastructure/telemetry"
)

// ErrRunInProgress means the same feed is already being ingested
var ErrRunInProgress = errors.New("ingest: feed run already in progress")

// SourceEventFeedIngested tags outbox records produced by a feed run
const SourceEventFeedIngested = "feed_ingested"

// VariantMatcher resolves one incoming variant against the catalog
type VariantMatcher interface {
	Match(ctx context.Context, input matching.Input) (catalog.MatchResult, error)
}

// ChangePublisher turns upsert results into outbox records
type ChangePublisher interface {
	WriteChanges(ctx context.Context, result *catalog.UpsertResult, sourceEvent string) error
}

// Report summarizes one feed run
type Report struct {
	RunID      uuid.UUID                   `json:"run_id"`
	SupplierID uuid.UUID                   `json:"supplier_id"`
	Stats      feedparse.Stats             `json:"stats"`
	Created    int                         `json:"created"`
	Updated    int                         `json:"updated"`
	Unchanged  int                         `json:"unchanged"`
	Failed     int                         `json:"failed"`
	MatchedBy  map[catalog.MatcherName]int `json:"matched_by"`
	StartedAt  time.Time                   `json:"started_at"`
	Duration   time.Duration               `json:"duration"`
}

// Service runs feed ingestions. A distributed lock keyed by the file's
// content hash guards against two instances racing on the same feed.
type Service struct {
	matcher    VariantMatcher
	writer     catalog.Writer
	publisher  ChangePublisher
	locks      shared.IdempotencyStore
	lockTTL    time.Duration
	parserOpts feedparse.Options
	logger     *zap.Logger
}

// NewService creates the ingestion service
func NewService(
	matcher VariantMatcher,
	writer catalog.Writer,
	publisher ChangePublisher,
	locks shared.IdempotencyStore,
	lockTTL time.Duration,
	parserOpts feedparse.Options,
	log *zap.Logger,
) *Service {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Hour
	}
	return &Service{
		matcher:    matcher,
		writer:     writer,
		publisher:  publisher,
		locks:      locks,
		lockTTL:    lockTTL,
		parserOpts: parserOpts,
		logger:     log.Named("ingest"),
	}
}

// Run ingests one supplier feed file and returns the run report.
// Per-product failures are counted and logged, not fatal; the run aborts
// only on context cancellation or a parser-level error.
func (s *Service) Run(ctx context.Context, supplierID uuid.UUID, path string) (*Report, error) {
	checksum, err := fileChecksum(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to checksum feed: %w", err)
	}

	lockKey := fmt.Sprintf("run:%s:%s", supplierID, checksum)
	acquired, err := s.locks.MarkProcessed(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Warn("failed to release run lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	runID := uuid.New()
	ctx, log := logger.WithRunID(ctx, s.logger, runID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "ingest", "run",
		telemetry.WithAttribute("supplier_id", supplierID.String()),
		telemetry.WithAttribute("run_id", runID.String()),
	)
	defer span.End()

	log = log.With(
		zap.String("supplier_id", supplierID.String()),
		zap.String("feed_checksum", checksum),
	)
	log.Info("feed run started", zap.String("path", path))

	report := &Report{
		RunID:      runID,
		SupplierID: supplierID,
		MatchedBy:  make(map[catalog.MatcherName]int),
		StartedAt:  time.Now(),
	}

	parser, err := feedparse.Open(path, s.parserOpts)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("ingest: failed to open feed: %w", err)
	}
	defer func() { _ = parser.Close() }()

	for {
		record, err := parser.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("ingest: feed stream failed: %w", err)
		}

		if err := s.processProduct(ctx, supplierID, record, report); err != nil {
			if ctx.Err() != nil {
				telemetry.RecordError(span, ctx.Err())
				return nil, ctx.Err()
			}
			report.Failed++
			log.Warn("product failed",
				zap.String("supplier_sku", record.SupplierSKU),
				zap.Error(err),
			)
		}
	}

	report.Stats = parser.Stats()
	report.Duration = time.Since(report.StartedAt)
	telemetry.SetAttributes(span,
		"products_emitted", report.Stats.Emitted,
		"products_created", report.Created,
		"products_failed", report.Failed,
	)
	log.Info("feed run finished",
		zap.Int("total_parsed", report.Stats.TotalParsed),
		zap.Int("emitted", report.Stats.Emitted),
		zap.Int("skipped", report.Stats.Skipped),
		zap.Int("errors", report.Stats.Errors),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// processProduct matches every variant of one product and applies the write
func (s *Service) processProduct(ctx context.Context, supplierID uuid.UUID, record *feed.ProductRecord, report *Report) error {
	variants := record.EffectiveVariants()
	matches := make(map[string]catalog.MatchResult, len(variants))
	for i := range variants {
		result, err := s.matcher.Match(ctx, matching.Input{Product: record, Variant: &variants[i]})
		if err != nil {
			return fmt.Errorf("match variant %q: %w", variants[i].SKU, err)
		}
		matches[variants[i].SKU] = result
		report.MatchedBy[result.Matcher]++
	}

	result, err := s.writer.Upsert(ctx, record, supplierID, matches)
	if err != nil {
		return fmt.Errorf("upsert product %q: %w", record.SupplierSKU, err)
	}

	switch {
	case result.Unchanged:
		report.Unchanged++
	case result.Created:
		report.Created++
	default:
		report.Updated++
	}

	if err := s.publisher.WriteChanges(ctx, result, SourceEventFeedIngested); err != nil {
		return fmt.Errorf("record changes for %q: %w", record.SupplierSKU, err)
	}
	return nil
}

// fileChecksum hashes the feed content; the hash doubles as the run-lock key
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
