package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/feed"
	"github.com/feedbridge/backend/internal/domain/shared"
	"github.com/feedbridge/backend/internal/infrastructure/persistence/models"
)

// CatalogRepository is the GORM-backed catalog store. It implements the
// writer capability the ingestion pipeline consumes, the candidate lookup
// the matching engine runs against, and read access for projections.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a GORM-based catalog repository
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *CatalogRepository) WithTx(tx *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: tx}
}

// Upsert applies one normalized product record to the catalog. Matched
// variants are updated in place under an optimistic version check; unmatched
// ones are created. The affected delivery lanes are computed from what
// actually changed, and a checksum short-circuit makes re-running the same
// feed a no-op.
func (r *CatalogRepository) Upsert(ctx context.Context, record *feed.ProductRecord, supplierID uuid.UUID, matches map[string]catalog.MatchResult) (*catalog.UpsertResult, error) {
	if record == nil {
		return nil, shared.ErrInvalidInput
	}

	result := &catalog.UpsertResult{
		IDs: catalog.EntityIDs{VariantIDs: make(map[string]uuid.UUID)},
	}
	recordChecksum := record.Checksum()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		modelRow, err := r.resolveModel(tx, record, supplierID, matches)
		if err != nil {
			return err
		}

		if modelRow == nil {
			modelRow = newModelRow(record, supplierID, recordChecksum)
			if err := tx.Create(modelRow).Error; err != nil {
				return fmt.Errorf("failed to create model: %w", err)
			}
			result.Created = true
		} else if modelRow.Checksum == recordChecksum {
			// Nothing about this product changed since the last pass.
			result.Unchanged = true
			result.IDs.ModelID = modelRow.ID
			if err := r.collectVariantIDs(tx, modelRow.ID, record, result); err != nil {
				return err
			}
			return nil
		}
		result.IDs.ModelID = modelRow.ID

		lanes := newLaneSet()
		if result.Created {
			lanes.addAll()
		} else if modelContentChanged(modelRow, record) {
			lanes.add(shared.LaneContent)
		}

		now := time.Now()
		variants := record.EffectiveVariants()
		for i := range variants {
			v := variants[i]
			match := matches[v.SKU]

			if match.VariantID != nil {
				if err := r.updateVariant(tx, *match.VariantID, modelRow.ID, &v, now, lanes, result); err != nil {
					return err
				}
				continue
			}

			row := newVariantRow(&v, modelRow.ID, supplierID, now)
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to create variant %s: %w", v.SKU, err)
			}
			result.IDs.VariantIDs[v.SKU] = row.ID
			lanes.addAll()
		}

		if !result.Created {
			if err := r.updateModel(tx, modelRow, record, recordChecksum); err != nil {
				return err
			}
		}

		result.Lanes = lanes.ordered()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveModel finds the catalog model this record belongs to, from the
// match results. Nil with no error means a new model must be created.
func (r *CatalogRepository) resolveModel(tx *gorm.DB, record *feed.ProductRecord, supplierID uuid.UUID, matches map[string]catalog.MatchResult) (*models.CatalogModelRow, error) {
	var modelID *uuid.UUID
	for _, v := range record.EffectiveVariants() {
		if m, ok := matches[v.SKU]; ok && m.ModelID != nil {
			modelID = m.ModelID
			break
		}
	}
	if modelID == nil {
		return nil, nil
	}

	var row models.CatalogModelRow
	if err := tx.Where("id = ?", *modelID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: matched model %s does not exist", shared.ErrNotFound, *modelID)
		}
		return nil, err
	}
	if row.SupplierID != supplierID {
		return nil, fmt.Errorf("%w: matched model %s belongs to another supplier", shared.ErrInvalidState, *modelID)
	}
	return &row, nil
}

func (r *CatalogRepository) updateModel(tx *gorm.DB, row *models.CatalogModelRow, record *feed.ProductRecord, checksum string) error {
	res := tx.Model(&models.CatalogModelRow{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(map[string]any{
			"brand":           record.Brand,
			"name":            record.Name,
			"normalized_name": catalog.NormalizeName(record.Name),
			"category_path":   models.JoinCategoryPath(record.CategoryPath),
			"description":     record.Description,
			"checksum":        checksum,
			"version":         row.Version + 1,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update model %s: %w", row.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: model %s was modified concurrently", shared.ErrConcurrencyConflict, row.ID)
	}
	return nil
}

func (r *CatalogRepository) updateVariant(tx *gorm.DB, variantID, modelID uuid.UUID, v *feed.VariantRecord, now time.Time, lanes *laneSet, result *catalog.UpsertResult) error {
	var row models.VariantRow
	if err := tx.Where("id = ?", variantID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: matched variant %s does not exist", shared.ErrNotFound, variantID)
		}
		return err
	}

	priceChanged := !row.Price.Equal(v.Price) || !decimalPtrEqual(row.CompareAtPrice, v.CompareAtPrice)
	stockChanged := row.InStock != v.InStock || row.StockQuantity != v.StockQuantity
	contentChanged := row.OptionLabel != v.OptionLabel() ||
		row.Barcode != v.Barcode ||
		row.MPN != v.MPN ||
		row.SupplierSKU != v.SKU

	if priceChanged {
		lanes.add(shared.LanePrice)
	}
	if stockChanged {
		lanes.add(shared.LaneStock)
	}
	if contentChanged {
		lanes.add(shared.LaneContent)
	}

	res := tx.Model(&models.VariantRow{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(map[string]any{
			"model_id":         modelID,
			"supplier_sku":     v.SKU,
			"barcode":          v.Barcode,
			"mpn":              v.MPN,
			"price":            v.Price,
			"compare_at_price": v.CompareAtPrice,
			"in_stock":         v.InStock,
			"stock_quantity":   v.StockQuantity,
			"option_label":     v.OptionLabel(),
			"checksum":         variantChecksum(v),
			"version":          row.Version + 1,
			"last_matched_at":  now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update variant %s: %w", row.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: variant %s was modified concurrently", shared.ErrConcurrencyConflict, row.ID)
	}

	result.IDs.VariantIDs[v.SKU] = row.ID
	return nil
}

// collectVariantIDs resolves supplier SKUs to stored variant ids for the
// unchanged short-circuit path, where no write resolves them as a side effect.
func (r *CatalogRepository) collectVariantIDs(tx *gorm.DB, modelID uuid.UUID, record *feed.ProductRecord, result *catalog.UpsertResult) error {
	var rows []models.VariantRow
	if err := tx.Where("model_id = ?", modelID).Find(&rows).Error; err != nil {
		return err
	}
	bySKU := make(map[string]uuid.UUID, len(rows))
	for _, row := range rows {
		bySKU[row.SupplierSKU] = row.ID
	}
	for _, v := range record.EffectiveVariants() {
		if id, ok := bySKU[v.SKU]; ok {
			result.IDs.VariantIDs[v.SKU] = id
		}
	}
	return nil
}

// GetOffersCount returns the number of catalog variants for a supplier
func (r *CatalogRepository) GetOffersCount(ctx context.Context, supplierID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.VariantRow{}).
		Where("supplier_id = ?", supplierID).
		Count(&count).Error
	return count, err
}

// GetModelAggregate loads a model with all its variants
func (r *CatalogRepository) GetModelAggregate(ctx context.Context, modelID uuid.UUID) (*catalog.ModelAggregate, error) {
	var modelRow models.CatalogModelRow
	if err := r.db.WithContext(ctx).Where("id = ?", modelID).First(&modelRow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: model %s", shared.ErrNotFound, modelID)
		}
		return nil, err
	}

	var variantRows []models.VariantRow
	if err := r.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Order("created_at ASC, id ASC").
		Find(&variantRows).Error; err != nil {
		return nil, err
	}

	agg := &catalog.ModelAggregate{Model: *modelRow.ToDomain()}
	for i := range variantRows {
		agg.Variants = append(agg.Variants, *variantRows[i].ToDomain())
	}
	return agg, nil
}

// candidateRow is the flat scan target for candidate lookups
type candidateRow struct {
	VariantID     uuid.UUID
	ModelID       uuid.UUID
	Name          string
	Brand         string
	SizeLabel     string
	Barcode       string
	MPN           string
	LastMatchedAt *time.Time
}

func (c *candidateRow) toDomain() catalog.Candidate {
	return catalog.Candidate{
		VariantID:     c.VariantID,
		ModelID:       c.ModelID,
		Name:          c.Name,
		Brand:         c.Brand,
		SizeLabel:     c.SizeLabel,
		Barcode:       c.Barcode,
		MPN:           c.MPN,
		LastMatchedAt: c.LastMatchedAt,
	}
}

const candidateSelect = "v.id AS variant_id, v.model_id, m.name, m.brand, v.option_label AS size_label, v.barcode, v.mpn, v.last_matched_at"

// FindByBarcode looks up a variant by exact universal product code
func (r *CatalogRepository) FindByBarcode(ctx context.Context, barcode string) (*catalog.Candidate, error) {
	var rows []candidateRow
	err := r.db.WithContext(ctx).
		Table("catalog_variants AS v").
		Select(candidateSelect).
		Joins("JOIN catalog_models m ON m.id = v.model_id").
		Where("v.barcode = ?", barcode).
		Order("v.id ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	c := rows[0].toDomain()
	return &c, nil
}

// FindByMPN looks up a variant by manufacturer part number within a brand
func (r *CatalogRepository) FindByMPN(ctx context.Context, brand, mpn string) (*catalog.Candidate, error) {
	var rows []candidateRow
	err := r.db.WithContext(ctx).
		Table("catalog_variants AS v").
		Select(candidateSelect).
		Joins("JOIN catalog_models m ON m.id = v.model_id").
		Where("v.mpn = ? AND LOWER(m.brand) = LOWER(?)", mpn, brand).
		Order("v.id ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	c := rows[0].toDomain()
	return &c, nil
}

// FindHeuristicCandidates returns variants of the given brand for composite
// similarity scoring
func (r *CatalogRepository) FindHeuristicCandidates(ctx context.Context, brand string, limit int) ([]catalog.Candidate, error) {
	var rows []candidateRow
	err := r.db.WithContext(ctx).
		Table("catalog_variants AS v").
		Select(candidateSelect).
		Joins("JOIN catalog_models m ON m.id = v.model_id").
		Where("LOWER(m.brand) = LOWER(?)", brand).
		Order("v.id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	candidates := make([]catalog.Candidate, 0, len(rows))
	for i := range rows {
		candidates = append(candidates, rows[i].toDomain())
	}
	return candidates, nil
}

func newModelRow(record *feed.ProductRecord, supplierID uuid.UUID, checksum string) *models.CatalogModelRow {
	now := time.Now()
	return &models.CatalogModelRow{
		ID:             uuid.New(),
		SupplierID:     supplierID,
		Brand:          record.Brand,
		Name:           record.Name,
		NormalizedName: catalog.NormalizeName(record.Name),
		CategoryPath:   models.JoinCategoryPath(record.CategoryPath),
		Description:    record.Description,
		Checksum:       checksum,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func newVariantRow(v *feed.VariantRecord, modelID, supplierID uuid.UUID, now time.Time) *models.VariantRow {
	return &models.VariantRow{
		ID:             uuid.New(),
		ModelID:        modelID,
		SupplierID:     supplierID,
		SupplierSKU:    v.SKU,
		Barcode:        v.Barcode,
		MPN:            v.MPN,
		Price:          v.Price,
		CompareAtPrice: v.CompareAtPrice,
		InStock:        v.InStock,
		StockQuantity:  v.StockQuantity,
		OptionLabel:    v.OptionLabel(),
		Checksum:       variantChecksum(v),
		Version:        1,
		LastMatchedAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func modelContentChanged(row *models.CatalogModelRow, record *feed.ProductRecord) bool {
	return row.Name != record.Name ||
		row.Brand != record.Brand ||
		row.Description != record.Description ||
		row.CategoryPath != models.JoinCategoryPath(record.CategoryPath)
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// variantChecksum is a deterministic hash of one variant's stored fields
func variantChecksum(v *feed.VariantRecord) string {
	var b strings.Builder
	b.WriteString(v.SKU)
	b.WriteByte(0)
	b.WriteString(v.Barcode)
	b.WriteByte(0)
	b.WriteString(v.MPN)
	b.WriteByte(0)
	b.WriteString(v.Price.String())
	b.WriteByte(0)
	if v.CompareAtPrice != nil {
		b.WriteString(v.CompareAtPrice.String())
	}
	b.WriteByte(0)
	b.WriteString(fmt.Sprintf("%t/%d", v.InStock, v.StockQuantity))
	b.WriteByte(0)
	b.WriteString(v.OptionLabel())
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// laneSet accumulates affected lanes without duplicates
type laneSet struct {
	set map[shared.Lane]struct{}
}

func newLaneSet() *laneSet {
	return &laneSet{set: make(map[shared.Lane]struct{}, 3)}
}

func (s *laneSet) add(lane shared.Lane) {
	s.set[lane] = struct{}{}
}

func (s *laneSet) addAll() {
	for _, lane := range shared.AllLanes() {
		s.add(lane)
	}
}

// ordered returns lanes in canonical processing order
func (s *laneSet) ordered() []shared.Lane {
	var lanes []shared.Lane
	for _, lane := range shared.AllLanes() {
		if _, ok := s.set[lane]; ok {
			lanes = append(lanes, lane)
		}
	}
	return lanes
}

var (
	_ catalog.Writer          = (*CatalogRepository)(nil)
	_ catalog.Reader          = (*CatalogRepository)(nil)
	_ catalog.CandidateFinder = (*CatalogRepository)(nil)
)
