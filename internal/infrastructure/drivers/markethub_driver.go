package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/channel"
)

// MarketHubProjector renders catalog models into the marketplace
// aggregator's card shape. The marketplace requires a barcode per size, so
// variants without one are dropped and a model with none is not eligible.
type MarketHubProjector struct {
	reader catalog.Reader
}

// NewMarketHubProjector creates a projector backed by the catalog reader
func NewMarketHubProjector(reader catalog.Reader) *MarketHubProjector {
	return &MarketHubProjector{reader: reader}
}

// BuildProjection builds the card payload for one model, or nil when the
// model has no barcoded variants
func (p *MarketHubProjector) BuildProjection(ctx context.Context, modelID uuid.UUID, ch *channel.SalesChannel) (*channel.Projection, error) {
	agg, err := p.reader.GetModelAggregate(ctx, modelID)
	if err != nil {
		return nil, err
	}

	card := markethubCard{
		VendorCode:  agg.Model.ID.String(),
		Title:       agg.Model.Name,
		Brand:       agg.Model.Brand,
		Categories:  agg.Model.CategoryPath,
		Description: agg.Model.Description,
	}
	for _, v := range agg.Variants {
		if v.Barcode == "" {
			continue
		}
		card.Sizes = append(card.Sizes, markethubSize{
			SKU:     v.SupplierSKU,
			Barcode: v.Barcode,
			Label:   v.OptionLabel,
			Price:   v.Price.StringFixed(2),
		})
	}
	if len(card.Sizes) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("markethub: failed to encode card: %w", err)
	}
	return &channel.Projection{ModelID: modelID, Payload: payload}, nil
}

// BuildPriceItems builds price entries for barcoded variants of the models
func (p *MarketHubProjector) BuildPriceItems(ctx context.Context, modelIDs []uuid.UUID, ch *channel.SalesChannel) ([]channel.PriceItem, error) {
	var items []channel.PriceItem
	for _, id := range modelIDs {
		agg, err := p.reader.GetModelAggregate(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, v := range agg.Variants {
			if v.Barcode == "" {
				continue
			}
			items = append(items, channel.PriceItem{
				ExternalID:     v.SupplierSKU,
				Price:          v.Price,
				CompareAtPrice: v.CompareAtPrice,
			})
		}
	}
	return items, nil
}

// BuildStockItems builds stock entries for barcoded variants of the models
func (p *MarketHubProjector) BuildStockItems(ctx context.Context, modelIDs []uuid.UUID, ch *channel.SalesChannel) ([]channel.StockItem, error) {
	var items []channel.StockItem
	for _, id := range modelIDs {
		agg, err := p.reader.GetModelAggregate(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, v := range agg.Variants {
			if v.Barcode == "" {
				continue
			}
			items = append(items, channel.StockItem{
				ExternalID: v.SupplierSKU,
				Quantity:   v.StockQuantity,
				InStock:    v.InStock,
			})
		}
	}
	return items, nil
}

// MarketHubTransport delivers batch payloads to the marketplace
// aggregator's v2 API
type MarketHubTransport struct {
	client *http.Client

	mu      sync.RWMutex
	configs map[uuid.UUID]*MarketHubConfig
}

// NewMarketHubTransport creates the markethub transport
func NewMarketHubTransport(connectTimeout, requestTimeout time.Duration) *MarketHubTransport {
	return &MarketHubTransport{
		client:  newHTTPClient(connectTimeout, requestTimeout),
		configs: make(map[uuid.UUID]*MarketHubConfig),
	}
}

func (t *MarketHubTransport) config(ch *channel.SalesChannel) (*MarketHubConfig, error) {
	t.mu.RLock()
	cfg, ok := t.configs[ch.ID]
	t.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := NewMarketHubConfig(ch)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.configs[ch.ID] = cfg
	t.mu.Unlock()
	return cfg, nil
}

// Push delivers one projection as a single-card upload
func (t *MarketHubTransport) Push(ctx context.Context, modelID uuid.UUID, projection *channel.Projection, ch *channel.SalesChannel) error {
	results, err := t.PushBatch(ctx, map[uuid.UUID]*channel.Projection{modelID: projection}, ch)
	if err != nil {
		return err
	}
	return results[modelID]
}

// PushBatch delivers all cards in one POST /v2/cards/upload call. The
// aggregator accepts or rejects the batch as a whole, so every model shares
// the batch outcome.
func (t *MarketHubTransport) PushBatch(ctx context.Context, projections map[uuid.UUID]*channel.Projection, ch *channel.SalesChannel) (map[uuid.UUID]error, error) {
	cfg, err := t.config(ch)
	if err != nil {
		return nil, err
	}

	upload := markethubCardUpload{Cards: make([]markethubCard, 0, len(projections))}
	order := make([]uuid.UUID, 0, len(projections))
	for modelID, projection := range projections {
		var card markethubCard
		if err := json.Unmarshal(projection.Payload, &card); err != nil {
			return nil, fmt.Errorf("markethub: projection for %s is not a card: %w", modelID, err)
		}
		upload.Cards = append(upload.Cards, card)
		order = append(order, modelID)
	}

	payload, err := json.Marshal(upload)
	if err != nil {
		return nil, fmt.Errorf("markethub: failed to encode upload: %w", err)
	}

	callErr := doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodPost, cfg.APIURL+"/v2/cards/upload", cfg.headers(), payload)
	results := make(map[uuid.UUID]error, len(order))
	for _, modelID := range order {
		results[modelID] = callErr
	}
	return results, nil
}

// PushPrices delivers a price batch to POST /v2/prices
func (t *MarketHubTransport) PushPrices(ctx context.Context, items []channel.PriceItem, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}

	batch := make([]markethubPriceItem, 0, len(items))
	for _, item := range items {
		p := markethubPriceItem{SKU: item.ExternalID, Price: item.Price.StringFixed(2)}
		if item.CompareAtPrice != nil {
			p.OldPrice = item.CompareAtPrice.StringFixed(2)
		}
		batch = append(batch, p)
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("markethub: failed to encode prices: %w", err)
	}
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodPost, cfg.APIURL+"/v2/prices", cfg.headers(), payload)
}

// PushStocks delivers a stock batch to POST /v2/stocks
func (t *MarketHubTransport) PushStocks(ctx context.Context, items []channel.StockItem, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}

	batch := make([]markethubStockItem, 0, len(items))
	for _, item := range items {
		amount := item.Quantity
		if !item.InStock {
			amount = 0
		}
		batch = append(batch, markethubStockItem{SKU: item.ExternalID, Amount: amount})
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("markethub: failed to encode stocks: %w", err)
	}
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodPost, cfg.APIURL+"/v2/stocks", cfg.headers(), payload)
}

// PushCategoryTree delivers the category tree to POST /v2/categories/tree
func (t *MarketHubTransport) PushCategoryTree(ctx context.Context, payload json.RawMessage, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodPost, cfg.APIURL+"/v2/categories/tree", cfg.headers(), payload)
}

// HealthCheck verifies the aggregator endpoint via GET /v2/ping
func (t *MarketHubTransport) HealthCheck(ctx context.Context, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodGet, cfg.APIURL+"/v2/ping", cfg.headers(), nil)
}

var (
	_ channel.Projector = (*MarketHubProjector)(nil)
	_ channel.Transport = (*MarketHubTransport)(nil)
)
