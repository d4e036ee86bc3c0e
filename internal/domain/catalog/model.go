// Package catalog holds the canonical catalog entities and the ports the
// ingestion pipeline consumes: candidate lookup for matching, the writer
// capability that applies create/update decisions, and read access for
// channel projections.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/feedbridge/backend/internal/domain/feed"
	"github.com/feedbridge/backend/internal/domain/shared"
)

// Model is a catalog product model: the grouping entity variants belong to
type Model struct {
	ID             uuid.UUID
	SupplierID     uuid.UUID
	Brand          string
	Name           string
	NormalizedName string
	CategoryPath   string
	Description    string
	Checksum       string
	// Version backs the optimistic-concurrency check on the write path
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Variant is one sellable catalog variant of a model
type Variant struct {
	ID             uuid.UUID
	ModelID        uuid.UUID
	SupplierID     uuid.UUID
	SupplierSKU    string
	Barcode        string
	MPN            string
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	InStock        bool
	StockQuantity  int
	OptionLabel    string
	Checksum       string
	Version        int
	// LastMatchedAt backs the deterministic tie-break: among equally scored
	// heuristic candidates, the most recently matched one wins
	LastMatchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ModelAggregate is a model with its variants, as channel projectors consume it
type ModelAggregate struct {
	Model    Model
	Variants []Variant
}

// NormalizeName lowercases, collapses whitespace and strips punctuation so
// heuristic matching compares names on commercial content only
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r > 127: // keep non-ASCII letters (supplier names are multilingual)
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Candidate is a catalog variant surfaced to the matching engine
type Candidate struct {
	VariantID     uuid.UUID
	ModelID       uuid.UUID
	Name          string
	Brand         string
	SizeLabel     string
	Barcode       string
	MPN           string
	LastMatchedAt *time.Time
}

// CandidateFinder is the lookup port the matching engine runs against.
// All finders return (nil, nil) when no candidate exists.
type CandidateFinder interface {
	// FindByBarcode looks up a variant by exact universal product code
	FindByBarcode(ctx context.Context, barcode string) (*Candidate, error)

	// FindByMPN looks up a variant by manufacturer part number within a brand
	FindByMPN(ctx context.Context, brand, mpn string) (*Candidate, error)

	// FindHeuristicCandidates returns variants of the given brand for
	// composite similarity scoring
	FindHeuristicCandidates(ctx context.Context, brand string, limit int) ([]Candidate, error)
}

// EntityIDs reports the catalog identifiers an upsert resolved to
type EntityIDs struct {
	ModelID uuid.UUID
	// VariantIDs maps supplier SKU to catalog variant id
	VariantIDs map[string]uuid.UUID
}

// UpsertResult describes what an upsert changed
type UpsertResult struct {
	IDs     EntityIDs
	Created bool
	// Unchanged is true when the record checksum matched the stored one and
	// no write happened
	Unchanged bool
	// Lanes lists the delivery lanes affected by this change; a single write
	// can touch more than one lane
	Lanes []shared.Lane
}

// Writer is the catalog persistence capability the ingestion pipeline
// consumes. Implementations must serialize or optimistically check writes
// keyed by supplier SKU so two concurrent feeds cannot lose updates.
type Writer interface {
	// Upsert applies one normalized product with its per-variant match
	// results and reports the affected entities and lanes
	Upsert(ctx context.Context, record *feed.ProductRecord, supplierID uuid.UUID, matches map[string]MatchResult) (*UpsertResult, error)

	// GetOffersCount returns the number of catalog variants for a supplier
	GetOffersCount(ctx context.Context, supplierID uuid.UUID) (int64, error)
}

// Reader provides read access for channel projections
type Reader interface {
	// GetModelAggregate loads a model with all its variants
	GetModelAggregate(ctx context.Context, modelID uuid.UUID) (*ModelAggregate, error)
}
