package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/feedbridge/backend/internal/domain/catalog"
)

const (
	// secondaryConfidence is the fixed confidence of an MPN match: high, but
	// below 1.0 because part numbers are occasionally reused across revisions
	secondaryConfidence = 0.95

	// defaultHeuristicThreshold is the minimum composite score below which
	// the heuristic matcher has no opinion
	defaultHeuristicThreshold = 0.75

	// defaultCandidateLimit bounds how many same-brand candidates are scored
	defaultCandidateLimit = 200

	// heuristicConfidenceCap keeps heuristic confidence strictly below exact
	heuristicConfidenceCap = 0.99
)

// exactMatcher matches on the universal product code
type exactMatcher struct {
	finder catalog.CandidateFinder
}

func (m *exactMatcher) Name() catalog.MatcherName {
	return catalog.MatcherExactIdentifier
}

func (m *exactMatcher) Match(ctx context.Context, in Input) (*catalog.MatchResult, error) {
	barcode := strings.TrimSpace(in.Variant.Barcode)
	if barcode == "" {
		return nil, nil
	}

	candidate, err := m.finder.FindByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}

	result := catalog.NewExactMatch(candidate.VariantID, candidate.ModelID, map[string]string{
		"barcode": barcode,
	})
	return &result, nil
}

// secondaryMatcher matches on the manufacturer part number within a brand
type secondaryMatcher struct {
	finder catalog.CandidateFinder
}

func (m *secondaryMatcher) Name() catalog.MatcherName {
	return catalog.MatcherSecondaryIdentifier
}

func (m *secondaryMatcher) Match(ctx context.Context, in Input) (*catalog.MatchResult, error) {
	mpn := strings.TrimSpace(in.Variant.MPN)
	if mpn == "" {
		return nil, nil
	}

	candidate, err := m.finder.FindByMPN(ctx, in.Product.Brand, mpn)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}

	result := catalog.NewSecondaryMatch(candidate.VariantID, candidate.ModelID, secondaryConfidence, map[string]string{
		"mpn":   mpn,
		"brand": in.Product.Brand,
	})
	return &result, nil
}

// heuristicMatcher scores same-brand candidates on normalized name, brand and
// size-label similarity. Below the threshold it has no opinion.
type heuristicMatcher struct {
	finder         catalog.CandidateFinder
	threshold      float64
	candidateLimit int
}

func newHeuristicMatcher(finder catalog.CandidateFinder) *heuristicMatcher {
	return &heuristicMatcher{
		finder:         finder,
		threshold:      defaultHeuristicThreshold,
		candidateLimit: defaultCandidateLimit,
	}
}

func (m *heuristicMatcher) Name() catalog.MatcherName {
	return catalog.MatcherCompositeHeuristic
}

// Component weights. Name similarity dominates, brand and size round the
// score out; brand candidates are already pre-filtered by the finder.
const (
	weightName  = 0.6
	weightBrand = 0.2
	weightSize  = 0.2
)

func (m *heuristicMatcher) Match(ctx context.Context, in Input) (*catalog.MatchResult, error) {
	candidates, err := m.finder.FindHeuristicCandidates(ctx, in.Product.Brand, m.candidateLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	inputName := catalog.NormalizeName(in.Product.Name)
	inputBrand := catalog.NormalizeName(in.Product.Brand)
	inputSize := catalog.NormalizeName(in.Variant.OptionLabel())

	type scored struct {
		candidate catalog.Candidate
		score     float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		score := m.score(inputName, inputBrand, inputSize, c)
		if score >= m.threshold {
			results = append(results, scored{candidate: c, score: score})
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	// Deterministic ordering: best score first; among equal scores prefer
	// the candidate matched most recently, then the lowest variant id.
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		at, bt := a.candidate.LastMatchedAt, b.candidate.LastMatchedAt
		switch {
		case at != nil && bt != nil && !at.Equal(*bt):
			return at.After(*bt)
		case at != nil && bt == nil:
			return true
		case at == nil && bt != nil:
			return false
		}
		return a.candidate.VariantID.String() < b.candidate.VariantID.String()
	})

	best := results[0]
	confidence := best.score
	if confidence > heuristicConfidenceCap {
		confidence = heuristicConfidenceCap
	}

	result := catalog.NewHeuristicMatch(best.candidate.VariantID, best.candidate.ModelID, confidence, map[string]string{
		"score":      fmt.Sprintf("%.4f", best.score),
		"candidates": fmt.Sprintf("%d", len(candidates)),
	})
	return &result, nil
}

func (m *heuristicMatcher) score(name, brand, size string, c catalog.Candidate) float64 {
	nameScore := nameSimilarity(name, catalog.NormalizeName(c.Name))

	brandScore := 0.0
	if brand != "" && brand == catalog.NormalizeName(c.Brand) {
		brandScore = 1.0
	}

	sizeScore := 0.0
	candidateSize := catalog.NormalizeName(c.SizeLabel)
	switch {
	case size == "" && candidateSize == "":
		// Neither side has sizing; treat as neutral agreement.
		sizeScore = 1.0
	case size != "" && candidateSize != "":
		sizeScore = nameSimilarity(size, candidateSize)
	}

	return weightName*nameScore + weightBrand*brandScore + weightSize*sizeScore
}
