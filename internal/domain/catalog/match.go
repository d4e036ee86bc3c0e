package catalog

import (
	"errors"

	"github.com/google/uuid"
)

// MatcherName identifies the strategy that produced a match result.
// The set is closed: workers and reports branch on it as a total match.
type MatcherName string

const (
	// MatcherExactIdentifier matched on a universal product code (barcode)
	MatcherExactIdentifier MatcherName = "exact-identifier"
	// MatcherSecondaryIdentifier matched on a manufacturer part number
	MatcherSecondaryIdentifier MatcherName = "secondary-identifier"
	// MatcherCompositeHeuristic matched on name/brand/size similarity
	MatcherCompositeHeuristic MatcherName = "composite-heuristic"
	// MatcherNew means no catalog entity corresponds to the input
	MatcherNew MatcherName = "new"
)

// IsValid returns true if the matcher name is part of the closed set
func (m MatcherName) IsValid() bool {
	switch m {
	case MatcherExactIdentifier, MatcherSecondaryIdentifier, MatcherCompositeHeuristic, MatcherNew:
		return true
	default:
		return false
	}
}

// MatchResult is the immutable outcome of matching one incoming variant.
// A nil VariantID means "new". VariantID != nil implies ModelID != nil, and
// confidence 1.0 is reserved for exact-identifier matches.
type MatchResult struct {
	VariantID  *uuid.UUID
	ModelID    *uuid.UUID
	Matcher    MatcherName
	Confidence float64
	// Details carries free-form diagnostics (similarity scores, tie-break
	// decisions) for observability; never used for control flow
	Details map[string]string
}

// NewExactMatch returns a confidence-1.0 result for an exact identifier hit
func NewExactMatch(variantID, modelID uuid.UUID, details map[string]string) MatchResult {
	return MatchResult{
		VariantID:  &variantID,
		ModelID:    &modelID,
		Matcher:    MatcherExactIdentifier,
		Confidence: 1.0,
		Details:    details,
	}
}

// NewSecondaryMatch returns a high-confidence result for an MPN hit
func NewSecondaryMatch(variantID, modelID uuid.UUID, confidence float64, details map[string]string) MatchResult {
	return MatchResult{
		VariantID:  &variantID,
		ModelID:    &modelID,
		Matcher:    MatcherSecondaryIdentifier,
		Confidence: confidence,
		Details:    details,
	}
}

// NewHeuristicMatch returns a similarity-scaled composite match
func NewHeuristicMatch(variantID, modelID uuid.UUID, confidence float64, details map[string]string) MatchResult {
	return MatchResult{
		VariantID:  &variantID,
		ModelID:    &modelID,
		Matcher:    MatcherCompositeHeuristic,
		Confidence: confidence,
		Details:    details,
	}
}

// NewNoMatch returns the "new entity" fallback result
func NewNoMatch() MatchResult {
	return MatchResult{Matcher: MatcherNew, Confidence: 0}
}

// IsNew reports whether the input corresponds to no existing catalog entity
func (r MatchResult) IsNew() bool {
	return r.VariantID == nil
}

// Validate checks the match result invariants
func (r MatchResult) Validate() error {
	if !r.Matcher.IsValid() {
		return errors.New("catalog: unknown matcher name")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.New("catalog: confidence must be within [0, 1]")
	}
	if r.VariantID != nil && r.ModelID == nil {
		return errors.New("catalog: a variant match requires a model id")
	}
	if r.Confidence == 1.0 && r.Matcher != MatcherExactIdentifier {
		return errors.New("catalog: confidence 1.0 is reserved for exact-identifier matches")
	}
	if r.Matcher == MatcherNew && r.VariantID != nil {
		return errors.New("catalog: a new result cannot carry entity ids")
	}
	return nil
}
