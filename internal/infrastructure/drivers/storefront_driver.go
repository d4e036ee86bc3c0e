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

// StorefrontProjector renders catalog models into the storefront's
// per-entity payload shape
type StorefrontProjector struct {
	reader catalog.Reader
}

// NewStorefrontProjector creates a projector backed by the catalog reader
func NewStorefrontProjector(reader catalog.Reader) *StorefrontProjector {
	return &StorefrontProjector{reader: reader}
}

// BuildProjection builds the content payload for one model. Models without
// variants are not sellable on the storefront: nil, nil means skip.
func (p *StorefrontProjector) BuildProjection(ctx context.Context, modelID uuid.UUID, ch *channel.SalesChannel) (*channel.Projection, error) {
	agg, err := p.reader.GetModelAggregate(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if len(agg.Variants) == 0 {
		return nil, nil
	}

	product := storefrontProduct{
		ExternalID:  agg.Model.ID.String(),
		Name:        agg.Model.Name,
		Brand:       agg.Model.Brand,
		Category:    agg.Model.CategoryPath,
		Description: agg.Model.Description,
	}
	for _, v := range agg.Variants {
		sv := storefrontVariant{
			SKU:         v.SupplierSKU,
			Barcode:     v.Barcode,
			Price:       v.Price.StringFixed(2),
			InStock:     v.InStock,
			Quantity:    v.StockQuantity,
			OptionLabel: v.OptionLabel,
		}
		if v.CompareAtPrice != nil {
			sv.CompareAtPrice = v.CompareAtPrice.StringFixed(2)
		}
		product.Variants = append(product.Variants, sv)
	}

	payload, err := json.Marshal(product)
	if err != nil {
		return nil, fmt.Errorf("storefront: failed to encode projection: %w", err)
	}
	return &channel.Projection{ModelID: modelID, Payload: payload}, nil
}

// BuildPriceItems builds the price-lane entries for the given models
func (p *StorefrontProjector) BuildPriceItems(ctx context.Context, modelIDs []uuid.UUID, ch *channel.SalesChannel) ([]channel.PriceItem, error) {
	var items []channel.PriceItem
	for _, id := range modelIDs {
		agg, err := p.reader.GetModelAggregate(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, v := range agg.Variants {
			items = append(items, channel.PriceItem{
				ExternalID:     v.SupplierSKU,
				Price:          v.Price,
				CompareAtPrice: v.CompareAtPrice,
			})
		}
	}
	return items, nil
}

// BuildStockItems builds the stock-lane entries for the given models
func (p *StorefrontProjector) BuildStockItems(ctx context.Context, modelIDs []uuid.UUID, ch *channel.SalesChannel) ([]channel.StockItem, error) {
	var items []channel.StockItem
	for _, id := range modelIDs {
		agg, err := p.reader.GetModelAggregate(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, v := range agg.Variants {
			items = append(items, channel.StockItem{
				ExternalID: v.SupplierSKU,
				Quantity:   v.StockQuantity,
				InStock:    v.InStock,
			})
		}
	}
	return items, nil
}

// StorefrontTransport delivers payloads to a REST storefront API, one
// entity per call. Per-channel configs are decoded once and cached.
type StorefrontTransport struct {
	client *http.Client

	mu      sync.RWMutex
	configs map[uuid.UUID]*StorefrontConfig
}

// NewStorefrontTransport creates the storefront transport
func NewStorefrontTransport(connectTimeout, requestTimeout time.Duration) *StorefrontTransport {
	return &StorefrontTransport{
		client:  newHTTPClient(connectTimeout, requestTimeout),
		configs: make(map[uuid.UUID]*StorefrontConfig),
	}
}

func (t *StorefrontTransport) config(ch *channel.SalesChannel) (*StorefrontConfig, error) {
	t.mu.RLock()
	cfg, ok := t.configs[ch.ID]
	t.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := NewStorefrontConfig(ch)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.configs[ch.ID] = cfg
	t.mu.Unlock()
	return cfg, nil
}

// Push delivers one projection
func (t *StorefrontTransport) Push(ctx context.Context, modelID uuid.UUID, projection *channel.Projection, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/products/%s", cfg.APIURL, modelID)
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodPut, url, cfg.headers(), projection.Payload)
}

// PushBatch delivers projections sequentially; the storefront API has no
// native batch endpoint. Outcomes are reported per model.
func (t *StorefrontTransport) PushBatch(ctx context.Context, projections map[uuid.UUID]*channel.Projection, ch *channel.SalesChannel) (map[uuid.UUID]error, error) {
	results := make(map[uuid.UUID]error, len(projections))
	for modelID, projection := range projections {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results[modelID] = t.Push(ctx, modelID, projection, ch)
	}
	return results, nil
}

// PushPrices delivers a price-lane batch
func (t *StorefrontTransport) PushPrices(ctx context.Context, items []channel.PriceItem, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}

	updates := make([]storefrontPriceUpdate, 0, len(items))
	for _, item := range items {
		u := storefrontPriceUpdate{SKU: item.ExternalID, Price: item.Price.StringFixed(2)}
		if item.CompareAtPrice != nil {
			u.CompareAtPrice = item.CompareAtPrice.StringFixed(2)
		}
		updates = append(updates, u)
	}
	payload, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("storefront: failed to encode prices: %w", err)
	}
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodPost, cfg.APIURL+"/api/prices", cfg.headers(), payload)
}

// PushStocks delivers a stock-lane batch
func (t *StorefrontTransport) PushStocks(ctx context.Context, items []channel.StockItem, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}

	updates := make([]storefrontStockUpdate, 0, len(items))
	for _, item := range items {
		updates = append(updates, storefrontStockUpdate{
			SKU:      item.ExternalID,
			InStock:  item.InStock,
			Quantity: item.Quantity,
		})
	}
	payload, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("storefront: failed to encode stocks: %w", err)
	}
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodPost, cfg.APIURL+"/api/stocks", cfg.headers(), payload)
}

// PushCategoryTree delivers the channel's category tree payload
func (t *StorefrontTransport) PushCategoryTree(ctx context.Context, payload json.RawMessage, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodPut, cfg.APIURL+"/api/categories", cfg.headers(), payload)
}

// HealthCheck verifies the storefront endpoint is reachable and authorized
func (t *StorefrontTransport) HealthCheck(ctx context.Context, ch *channel.SalesChannel) error {
	cfg, err := t.config(ch)
	if err != nil {
		return err
	}
	return doJSON(ctx, t.client, cfg.RequestTimeout, http.MethodGet, cfg.APIURL+"/api/health", cfg.headers(), nil)
}

var (
	_ channel.Projector = (*StorefrontProjector)(nil)
	_ channel.Transport = (*StorefrontTransport)(nil)
)
