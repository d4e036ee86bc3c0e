package persistence

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/feed"
	"github.com/feedbridge/backend/internal/domain/shared"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func testProduct(sku string, price int64) *feed.ProductRecord {
	return &feed.ProductRecord{
		SupplierSKU:  sku,
		Name:         "Lounge Chair Alfa",
		CategoryPath: []string{"Furniture", "Chairs"},
		Brand:        "Alfa",
		Model:        "Classic",
		Description:  "A chair",
		PriceMin:     decimal.NewFromInt(price),
		PriceMax:     decimal.NewFromInt(price),
		StockStatus:  feed.StockStatusInStock,
		Variants: []feed.VariantRecord{{
			SKU:           sku,
			Barcode:       "400638133393" + sku[len(sku)-1:],
			Price:         decimal.NewFromInt(price),
			InStock:       true,
			StockQuantity: 5,
			StockStatus:   feed.StockStatusInStock,
		}},
	}
}

func newMatches() map[string]catalog.MatchResult {
	return map[string]catalog.MatchResult{}
}

func TestUpsert_CreatesModelAndVariants(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	supplierID := uuid.New()

	record := testProduct("SKU-1", 100)
	result, err := repo.Upsert(context.Background(), record, supplierID, newMatches())
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.False(t, result.Unchanged)
	assert.ElementsMatch(t, shared.AllLanes(), result.Lanes)
	assert.NotEqual(t, uuid.Nil, result.IDs.ModelID)
	require.Contains(t, result.IDs.VariantIDs, "SKU-1")

	agg, err := repo.GetModelAggregate(context.Background(), result.IDs.ModelID)
	require.NoError(t, err)
	assert.Equal(t, "Lounge Chair Alfa", agg.Model.Name)
	assert.Equal(t, "Furniture > Chairs", agg.Model.CategoryPath)
	require.Len(t, agg.Variants, 1)
	assert.Equal(t, "SKU-1", agg.Variants[0].SupplierSKU)
}

func TestUpsert_ChecksumShortCircuit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	supplierID := uuid.New()

	record := testProduct("SKU-1", 100)
	first, err := repo.Upsert(context.Background(), record, supplierID, newMatches())
	require.NoError(t, err)

	matches := map[string]catalog.MatchResult{
		"SKU-1": matchFor(first, "SKU-1"),
	}
	second, err := repo.Upsert(context.Background(), record, supplierID, matches)
	require.NoError(t, err)

	assert.True(t, second.Unchanged)
	assert.Empty(t, second.Lanes)
	assert.Equal(t, first.IDs.ModelID, second.IDs.ModelID)
	assert.Equal(t, first.IDs.VariantIDs["SKU-1"], second.IDs.VariantIDs["SKU-1"])
}

func TestUpsert_PriceChangeAffectsPriceLaneOnly(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	supplierID := uuid.New()

	record := testProduct("SKU-1", 100)
	first, err := repo.Upsert(context.Background(), record, supplierID, newMatches())
	require.NoError(t, err)

	updated := testProduct("SKU-1", 120)
	matches := map[string]catalog.MatchResult{
		"SKU-1": matchFor(first, "SKU-1"),
	}
	second, err := repo.Upsert(context.Background(), updated, supplierID, matches)
	require.NoError(t, err)

	assert.False(t, second.Unchanged)
	assert.Equal(t, []shared.Lane{shared.LanePrice}, second.Lanes)
}

func TestUpsert_StockChangeAffectsStockLane(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	supplierID := uuid.New()

	record := testProduct("SKU-1", 100)
	first, err := repo.Upsert(context.Background(), record, supplierID, newMatches())
	require.NoError(t, err)

	updated := testProduct("SKU-1", 100)
	updated.Variants[0].StockQuantity = 0
	updated.Variants[0].InStock = false
	updated.Variants[0].StockStatus = feed.StockStatusOutOfStock
	updated.StockStatus = feed.StockStatusOutOfStock

	matches := map[string]catalog.MatchResult{
		"SKU-1": matchFor(first, "SKU-1"),
	}
	second, err := repo.Upsert(context.Background(), updated, supplierID, matches)
	require.NoError(t, err)

	assert.Equal(t, []shared.Lane{shared.LaneStock}, second.Lanes)
}

func TestUpsert_NewVariantOnExistingModel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	supplierID := uuid.New()

	record := testProduct("SKU-1", 100)
	first, err := repo.Upsert(context.Background(), record, supplierID, newMatches())
	require.NoError(t, err)

	expanded := testProduct("SKU-1", 100)
	expanded.Variants = append(expanded.Variants, feed.VariantRecord{
		SKU:           "SKU-2",
		Price:         decimal.NewFromInt(130),
		InStock:       true,
		StockQuantity: 2,
		StockStatus:   feed.StockStatusInStock,
	})
	expanded.PriceMax = decimal.NewFromInt(130)

	matches := map[string]catalog.MatchResult{
		"SKU-1": matchFor(first, "SKU-1"),
	}
	second, err := repo.Upsert(context.Background(), expanded, supplierID, matches)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.ElementsMatch(t, shared.AllLanes(), second.Lanes)
	assert.Contains(t, second.IDs.VariantIDs, "SKU-2")

	agg, err := repo.GetModelAggregate(context.Background(), first.IDs.ModelID)
	require.NoError(t, err)
	assert.Len(t, agg.Variants, 2)
}

func TestUpsert_StaleMatchSurfacesNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	supplierID := uuid.New()

	record := testProduct("SKU-1", 100)
	first, err := repo.Upsert(context.Background(), record, supplierID, newMatches())
	require.NoError(t, err)

	// A match pointing at a variant that no longer exists (candidate read
	// raced a delete) must fail loudly, not create a duplicate.
	orphanVariant := uuid.New()
	matches := map[string]catalog.MatchResult{
		"SKU-1": catalog.NewExactMatch(orphanVariant, first.IDs.ModelID, nil),
	}
	_, err = repo.Upsert(context.Background(), testProduct("SKU-1", 150), supplierID, matches)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpsert_RejectsForeignSupplierModel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)

	record := testProduct("SKU-1", 100)
	first, err := repo.Upsert(context.Background(), record, uuid.New(), newMatches())
	require.NoError(t, err)

	otherSupplier := uuid.New()
	matches := map[string]catalog.MatchResult{
		"SKU-1": matchFor(first, "SKU-1"),
	}
	_, err = repo.Upsert(context.Background(), testProduct("SKU-1", 100), otherSupplier, matches)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestGetOffersCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	supplierID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := repo.Upsert(context.Background(), testProduct(fmt.Sprintf("SKU-%d", i), 100+int64(i)), supplierID, newMatches())
		require.NoError(t, err)
	}

	count, err := repo.GetOffersCount(context.Background(), supplierID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = repo.GetOffersCount(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCandidateFinder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	supplierID := uuid.New()

	record := testProduct("SKU-1", 100)
	record.Variants[0].MPN = "MPN-77"
	result, err := repo.Upsert(context.Background(), record, supplierID, newMatches())
	require.NoError(t, err)

	t.Run("by barcode", func(t *testing.T) {
		c, err := repo.FindByBarcode(context.Background(), record.Variants[0].Barcode)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, result.IDs.VariantIDs["SKU-1"], c.VariantID)
		assert.Equal(t, result.IDs.ModelID, c.ModelID)
		assert.Equal(t, "Alfa", c.Brand)
	})

	t.Run("barcode miss is nil nil", func(t *testing.T) {
		c, err := repo.FindByBarcode(context.Background(), "0000000000000")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("by mpn within brand", func(t *testing.T) {
		c, err := repo.FindByMPN(context.Background(), "alfa", "MPN-77")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, result.IDs.VariantIDs["SKU-1"], c.VariantID)

		c, err = repo.FindByMPN(context.Background(), "beta", "MPN-77")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("heuristic candidates by brand", func(t *testing.T) {
		cs, err := repo.FindHeuristicCandidates(context.Background(), "Alfa", 10)
		require.NoError(t, err)
		require.Len(t, cs, 1)
		assert.Equal(t, "Lounge Chair Alfa", cs[0].Name)

		cs, err = repo.FindHeuristicCandidates(context.Background(), "Nobody", 10)
		require.NoError(t, err)
		assert.Empty(t, cs)
	})
}

func TestGetModelAggregate_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)

	_, err := repo.GetModelAggregate(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

// matchFor builds the exact match an engine would return for an already
// ingested variant
func matchFor(result *catalog.UpsertResult, sku string) catalog.MatchResult {
	variantID := result.IDs.VariantIDs[sku]
	return catalog.NewExactMatch(variantID, result.IDs.ModelID, nil)
}
