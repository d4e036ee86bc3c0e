package channel

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Projection is one channel-specific payload built from catalog state.
// The payload is kept as raw JSON so the dead-letter path can preserve the
// exact bytes a channel rejected.
type Projection struct {
	ModelID uuid.UUID
	Payload json.RawMessage
}

// PriceItem is one entry of a price-lane batch payload
type PriceItem struct {
	ExternalID     string
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
}

// StockItem is one entry of a stock-lane batch payload
type StockItem struct {
	ExternalID string
	Quantity   int
	InStock    bool
}

// Projector renders canonical catalog state into one channel's payload shape
type Projector interface {
	// BuildProjection builds the content payload for one model. A nil
	// projection (with nil error) means the entity is not eligible for this
	// channel and the record should be skipped, not failed.
	BuildProjection(ctx context.Context, modelID uuid.UUID, ch *SalesChannel) (*Projection, error)

	// BuildPriceItems builds the price-lane entries for the given models
	BuildPriceItems(ctx context.Context, modelIDs []uuid.UUID, ch *SalesChannel) ([]PriceItem, error)

	// BuildStockItems builds the stock-lane entries for the given models
	BuildStockItems(ctx context.Context, modelIDs []uuid.UUID, ch *SalesChannel) ([]StockItem, error)
}

// Transport performs the actual delivery calls for one driver. Every method
// returns nil on success, a *TransientError for retryable failures and a
// *ValidationError for terminal rejections; the worker's branching is a
// total match over that closed kind set.
//
// Transports are safely shared across workers: stateless aside from their
// connection pool.
type Transport interface {
	// Push delivers one projection
	Push(ctx context.Context, modelID uuid.UUID, projection *Projection, ch *SalesChannel) error

	// PushBatch delivers several projections and reports the outcome per
	// model. Drivers without a native batch endpoint deliver sequentially.
	PushBatch(ctx context.Context, projections map[uuid.UUID]*Projection, ch *SalesChannel) (map[uuid.UUID]error, error)

	// PushPrices delivers a price-lane batch
	PushPrices(ctx context.Context, items []PriceItem, ch *SalesChannel) error

	// PushStocks delivers a stock-lane batch
	PushStocks(ctx context.Context, items []StockItem, ch *SalesChannel) error

	// PushCategoryTree delivers the channel's category tree payload
	PushCategoryTree(ctx context.Context, payload json.RawMessage, ch *SalesChannel) error

	// HealthCheck verifies the channel endpoint is reachable and authorized
	HealthCheck(ctx context.Context, ch *SalesChannel) error
}

// Registry resolves a channel's driver name to its capability pair.
// It is the single seam for adding channels without touching the worker.
type Registry interface {
	// GetSyndicator returns the projector for the channel's driver,
	// failing fast with a configuration error for unregistered drivers
	GetSyndicator(ch *SalesChannel) (Projector, error)

	// GetAPIClient returns the transport for the channel's driver,
	// failing fast with a configuration error for unregistered drivers
	GetAPIClient(ch *SalesChannel) (Transport, error)
}
