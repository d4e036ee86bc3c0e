package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/feed"
)

// stubFinder is a canned-answer candidate finder
type stubFinder struct {
	byBarcode  *catalog.Candidate
	byMPN      *catalog.Candidate
	heuristic  []catalog.Candidate
	barcodeErr error
}

func (s *stubFinder) FindByBarcode(ctx context.Context, barcode string) (*catalog.Candidate, error) {
	return s.byBarcode, s.barcodeErr
}

func (s *stubFinder) FindByMPN(ctx context.Context, brand, mpn string) (*catalog.Candidate, error) {
	return s.byMPN, nil
}

func (s *stubFinder) FindHeuristicCandidates(ctx context.Context, brand string, limit int) ([]catalog.Candidate, error) {
	return s.heuristic, nil
}

func testInput(barcode, mpn, name, brand string) Input {
	return Input{
		Product: &feed.ProductRecord{Name: name, Brand: brand},
		Variant: &feed.VariantRecord{
			SKU:     "SKU-1",
			Barcode: barcode,
			MPN:     mpn,
			Price:   decimal.NewFromInt(100),
		},
	}
}

func candidate(name, brand string, lastMatched *time.Time) catalog.Candidate {
	return catalog.Candidate{
		VariantID:     uuid.New(),
		ModelID:       uuid.New(),
		Name:          name,
		Brand:         brand,
		LastMatchedAt: lastMatched,
	}
}

func TestEngine_ExactMatchWins(t *testing.T) {
	exact := candidate("Totally Different Name", "OtherBrand", nil)
	lookalike := candidate("Lounge Chair Alfa", "Alfa", nil)

	finder := &stubFinder{
		byBarcode: &exact,
		heuristic: []catalog.Candidate{lookalike},
	}
	engine := NewEngine(finder, zap.NewNop())

	result, err := engine.Match(context.Background(), testInput("4006381333931", "", "Lounge Chair Alfa", "Alfa"))
	require.NoError(t, err)

	// The exact identifier outranks the heuristic even though the heuristic
	// candidate's name similarity is far higher.
	assert.Equal(t, catalog.MatcherExactIdentifier, result.Matcher)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, exact.VariantID, *result.VariantID)
	require.NoError(t, result.Validate())
}

func TestEngine_SecondaryMatchAfterExactMiss(t *testing.T) {
	mpnHit := candidate("Chair", "Alfa", nil)
	finder := &stubFinder{byMPN: &mpnHit}
	engine := NewEngine(finder, zap.NewNop())

	result, err := engine.Match(context.Background(), testInput("123", "MPN-9", "Chair", "Alfa"))
	require.NoError(t, err)

	assert.Equal(t, catalog.MatcherSecondaryIdentifier, result.Matcher)
	assert.Less(t, result.Confidence, 1.0)
	assert.Greater(t, result.Confidence, 0.9)
}

func TestEngine_HeuristicMatch(t *testing.T) {
	hit := candidate("Lounge Chair Alfa 80x200", "Alfa", nil)
	miss := candidate("Garden Table Beta", "Alfa", nil)
	finder := &stubFinder{heuristic: []catalog.Candidate{miss, hit}}
	engine := NewEngine(finder, zap.NewNop())

	result, err := engine.Match(context.Background(), testInput("", "", "Lounge Chair Alfa 80x200", "Alfa"))
	require.NoError(t, err)

	assert.Equal(t, catalog.MatcherCompositeHeuristic, result.Matcher)
	assert.Equal(t, hit.VariantID, *result.VariantID)
	assert.Less(t, result.Confidence, 1.0)
	require.NoError(t, result.Validate())
}

func TestEngine_HeuristicBelowThresholdIsNew(t *testing.T) {
	unrelated := candidate("Completely Unrelated Product", "Alfa", nil)
	finder := &stubFinder{heuristic: []catalog.Candidate{unrelated}}
	engine := NewEngine(finder, zap.NewNop())

	result, err := engine.Match(context.Background(), testInput("", "", "Lounge Chair", "Alfa"))
	require.NoError(t, err)

	assert.True(t, result.IsNew())
	assert.Equal(t, catalog.MatcherNew, result.Matcher)
	assert.Zero(t, result.Confidence)
}

func TestEngine_Determinism(t *testing.T) {
	a := candidate("Lounge Chair Alfa", "Alfa", nil)
	b := candidate("Lounge Chair Alfa", "Alfa", nil)
	finder := &stubFinder{heuristic: []catalog.Candidate{a, b}}
	engine := NewEngine(finder, zap.NewNop())

	in := testInput("", "", "Lounge Chair Alfa", "Alfa")
	first, err := engine.Match(context.Background(), in)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := engine.Match(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEngine_TieBreakPrefersMostRecentlyMatched(t *testing.T) {
	older := time.Now().Add(-48 * time.Hour)
	newer := time.Now().Add(-1 * time.Hour)
	stale := candidate("Lounge Chair Alfa", "Alfa", &older)
	fresh := candidate("Lounge Chair Alfa", "Alfa", &newer)

	// Present the fresher candidate second so order of retrieval cannot be
	// what decides.
	finder := &stubFinder{heuristic: []catalog.Candidate{stale, fresh}}
	engine := NewEngine(finder, zap.NewNop())

	result, err := engine.Match(context.Background(), testInput("", "", "Lounge Chair Alfa", "Alfa"))
	require.NoError(t, err)
	assert.Equal(t, fresh.VariantID, *result.VariantID)
}

func TestEngine_TieBreakFallsBackToLowestID(t *testing.T) {
	a := candidate("Lounge Chair Alfa", "Alfa", nil)
	b := candidate("Lounge Chair Alfa", "Alfa", nil)
	finder := &stubFinder{heuristic: []catalog.Candidate{a, b}}
	engine := NewEngine(finder, zap.NewNop())

	result, err := engine.Match(context.Background(), testInput("", "", "Lounge Chair Alfa", "Alfa"))
	require.NoError(t, err)

	expected := a.VariantID
	if b.VariantID.String() < a.VariantID.String() {
		expected = b.VariantID
	}
	assert.Equal(t, expected, *result.VariantID)
}

func TestEngine_FinderErrorIsHardFailure(t *testing.T) {
	finder := &stubFinder{barcodeErr: errors.New("connection refused")}
	engine := NewEngine(finder, zap.NewNop())

	_, err := engine.Match(context.Background(), testInput("123", "", "Chair", "Alfa"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exact-identifier")
}

func TestEngine_EmptyCatalogIsNew(t *testing.T) {
	engine := NewEngine(&stubFinder{}, zap.NewNop())

	result, err := engine.Match(context.Background(), testInput("123", "MPN-1", "Chair", "Alfa"))
	require.NoError(t, err)
	assert.True(t, result.IsNew())
}

func TestSimilarity(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		assert.Equal(t, 1.0, nameSimilarity("lounge chair", "lounge chair"))
	})
	t.Run("reordered tokens", func(t *testing.T) {
		assert.Equal(t, 1.0, tokenSimilarity("chair lounge", "lounge chair"))
	})
	t.Run("disjoint", func(t *testing.T) {
		assert.Equal(t, 0.0, tokenSimilarity("chair", "table"))
	})
	t.Run("levenshtein", func(t *testing.T) {
		assert.Equal(t, 0, levenshtein("abc", "abc"))
		assert.Equal(t, 1, levenshtein("abc", "abd"))
		assert.Equal(t, 3, levenshtein("", "abc"))
	})
	t.Run("unicode", func(t *testing.T) {
		assert.Equal(t, 1, levenshtein("stühl", "stuhl"))
	})
}
