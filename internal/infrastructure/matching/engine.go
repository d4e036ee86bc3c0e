// Package matching decides whether an incoming feed variant corresponds to
// an existing catalog entity. Strategies run in a fixed chain from most to
// least precise and short-circuit at the first definitive answer.
package matching

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/feed"
)

// Input is one variant observation with its parent product context
type Input struct {
	Product *feed.ProductRecord
	Variant *feed.VariantRecord
}

// Matcher is one strategy in the chain. A nil result with a nil error means
// "no opinion": the chain moves on to the next strategy.
type Matcher interface {
	Name() catalog.MatcherName
	Match(ctx context.Context, in Input) (*catalog.MatchResult, error)
}

// Engine runs the matcher chain. The chain order is part of the contract:
// cheap, high-precision strategies run before expensive heuristic ones.
type Engine struct {
	chain  []Matcher
	logger *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithHeuristicThreshold overrides the minimum composite similarity score
func WithHeuristicThreshold(threshold float64) Option {
	return func(e *Engine) {
		for _, m := range e.chain {
			if h, ok := m.(*heuristicMatcher); ok {
				h.threshold = threshold
			}
		}
	}
}

// WithCandidateLimit overrides how many heuristic candidates are scored
func WithCandidateLimit(limit int) Option {
	return func(e *Engine) {
		for _, m := range e.chain {
			if h, ok := m.(*heuristicMatcher); ok {
				h.candidateLimit = limit
			}
		}
	}
}

// NewEngine builds the standard chain: exact identifier, secondary
// identifier, composite heuristic.
func NewEngine(finder catalog.CandidateFinder, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		chain: []Matcher{
			&exactMatcher{finder: finder},
			&secondaryMatcher{finder: finder},
			newHeuristicMatcher(finder),
		},
		logger: logger.Named("matching"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match returns exactly one result for the input. Strategies that error are
// a hard failure, not a silent skip, so a flaky candidate store cannot turn
// existing entities into duplicates.
func (e *Engine) Match(ctx context.Context, in Input) (catalog.MatchResult, error) {
	if in.Variant == nil || in.Product == nil {
		return catalog.MatchResult{}, fmt.Errorf("matching: input requires both product and variant")
	}

	for _, m := range e.chain {
		result, err := m.Match(ctx, in)
		if err != nil {
			return catalog.MatchResult{}, fmt.Errorf("matching: %s: %w", m.Name(), err)
		}
		if result == nil {
			continue
		}
		e.logger.Debug("variant matched",
			zap.String("sku", in.Variant.SKU),
			zap.String("matcher", string(result.Matcher)),
			zap.Float64("confidence", result.Confidence),
		)
		return *result, nil
	}

	return catalog.NewNoMatch(), nil
}
