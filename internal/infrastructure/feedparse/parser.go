package feedparse

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/feedbridge/backend/internal/domain/feed"
)

// Column names the parser understands. Supplier feeds are flat line-item
// files: one row is one variant observation, grouped into products by
// brand+model. Columns prefixed with "attr:" become product attributes,
// columns prefixed with "option:" become variant-defining options.
const (
	colSKU            = "sku"
	colName           = "name"
	colBrand          = "brand"
	colModel          = "model"
	colManufacturer   = "manufacturer"
	colCategory       = "category"
	colDescription    = "description"
	colPrice          = "price"
	colCompareAtPrice = "compare_at_price"
	colBarcode        = "barcode"
	colMPN            = "mpn"
	colStockQuantity  = "stock"
	colStockStatus    = "stock_status"
	colImages         = "images"

	attrPrefix   = "attr:"
	optionPrefix = "option:"

	imageSeparator = "|"
)

// requiredColumns must be present in every feed
var requiredColumns = []string{colSKU, colName, colPrice}

// ErrMissingColumns indicates the feed header lacks required columns
var ErrMissingColumns = errors.New("feedparse: feed is missing required columns")

// Options controls a single parse pass
type Options struct {
	// MaxProducts stops the stream after this many emitted products
	// (0 = unlimited). The product whose flush trips the limit is still
	// emitted.
	MaxProducts int
	// SkipImages drops all image URLs from emitted records
	SkipImages bool
	// MaxImagesPerProduct caps deduplicated images per product (0 = no cap)
	MaxImagesPerProduct int
	// PreferredImageHosts are kept ahead of other hosts when capping
	PreferredImageHosts []string
}

// Stats holds running counters for one parse pass
type Stats struct {
	TotalParsed int // line-items seen, including skipped and errored
	Skipped     int // items excluded for non-positive price
	Errors      int // malformed items
	Emitted     int // products emitted
}

// item is one parsed line-item: the product-level fields it carries plus
// the variant observation itself.
type item struct {
	sku          string
	name         string
	brand        string
	model        string
	manufacturer string
	category     string
	description  string
	attributes   []feed.Attribute
	images       []string
	variant      feed.VariantRecord
}

// StreamParser turns a flat supplier feed into a lazy, forward-only sequence
// of grouped product records. It holds at most one group of line-items in
// memory at a time, so feed size does not bound memory use.
type StreamParser struct {
	reader  *FeedReader
	closer  io.Closer
	opts    Options
	stats   Stats
	buffer  []item
	current string
	seenSKU map[string]struct{}
	done    bool

	attrColumns   []string
	optionColumns []string
}

// New creates a parser over a raw feed stream. The header row is consumed
// and validated immediately.
func New(r io.Reader, opts Options, readerOpts ...ReaderOption) (*StreamParser, error) {
	fr, err := NewFeedReader(r, readerOpts...)
	if err != nil {
		return nil, err
	}
	if err := fr.ReadHeader(); err != nil {
		return nil, err
	}
	if missing := fr.MissingHeaders(requiredColumns); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	p := &StreamParser{
		reader:  fr,
		opts:    opts,
		seenSKU: make(map[string]struct{}),
	}
	for _, h := range fr.Headers() {
		switch {
		case strings.HasPrefix(h, attrPrefix):
			p.attrColumns = append(p.attrColumns, h)
		case strings.HasPrefix(h, optionPrefix):
			p.optionColumns = append(p.optionColumns, h)
		}
	}
	return p, nil
}

// Open creates a parser over a feed file on local disk. Close must be called
// when the pass is finished or abandoned.
func Open(path string, opts Options, readerOpts ...ReaderOption) (*StreamParser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feedparse: open %s: %w", path, err)
	}
	p, err := New(f, opts, readerOpts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// Close releases the underlying file, if any
func (p *StreamParser) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// Stats returns a snapshot of the pass counters
func (p *StreamParser) Stats() Stats {
	return p.stats
}

// Next returns the next grouped product record, or io.EOF when the feed is
// exhausted or the product limit has been reached. A malformed line-item is
// counted and skipped, never aborting the stream.
func (p *StreamParser) Next() (*feed.ProductRecord, error) {
	if p.done {
		return nil, io.EOF
	}

	for {
		row, err := p.reader.ReadRow()
		if err == io.EOF {
			p.done = true
			if len(p.buffer) > 0 {
				return p.flush(), nil
			}
			return nil, io.EOF
		}
		if err != nil {
			p.stats.Errors++
			continue
		}

		p.stats.TotalParsed++

		it, err := p.parseItem(row)
		if err != nil {
			p.stats.Errors++
			continue
		}
		if !it.variant.Price.IsPositive() {
			p.stats.Skipped++
			continue
		}
		if _, dup := p.seenSKU[it.sku]; dup {
			p.stats.Errors++
			continue
		}
		p.seenSKU[it.sku] = struct{}{}

		key := groupKey(it.brand, it.model, it.name)
		if len(p.buffer) == 0 || key == p.current {
			p.current = key
			p.buffer = append(p.buffer, *it)
			continue
		}

		// Group key changed: flush the finished group, the new item opens
		// the next buffer.
		rec := p.flush()
		p.current = key
		p.buffer = append(p.buffer, *it)
		if p.opts.MaxProducts > 0 && p.stats.Emitted >= p.opts.MaxProducts {
			p.done = true
		}
		return rec, nil
	}
}

// groupKey computes the grouping key for a line-item. Brand+model is the
// usual key; items without either fall back to the item name so they still
// group with their duplicates.
func groupKey(brand, model, name string) string {
	b := normalizeKeyPart(brand)
	m := normalizeKeyPart(model)
	if b == "" && m == "" {
		return "name\x00" + normalizeKeyPart(name)
	}
	return b + "\x00" + m
}

func normalizeKeyPart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// splitCategoryPath splits a supplier category string into path segments.
// Both "Furniture > Chairs" and "Furniture/Chairs" conventions are seen in
// the wild.
func splitCategoryPath(raw string) []string {
	sep := "/"
	if strings.Contains(raw, ">") {
		sep = ">"
	}
	var path []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			path = append(path, part)
		}
	}
	return path
}

func (p *StreamParser) parseItem(row *Row) (*item, error) {
	sku := row.Get(colSKU)
	name := row.Get(colName)
	if sku == "" {
		return nil, fmt.Errorf("row %d: missing sku", row.LineNumber)
	}
	if name == "" {
		return nil, fmt.Errorf("row %d: missing name", row.LineNumber)
	}

	price, err := decimal.NewFromString(row.Get(colPrice))
	if err != nil {
		return nil, fmt.Errorf("row %d: bad price %q: %w", row.LineNumber, row.Get(colPrice), err)
	}

	var compareAt *decimal.Decimal
	if raw := row.Get(colCompareAtPrice); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad compare_at_price %q: %w", row.LineNumber, raw, err)
		}
		compareAt = &d
	}

	qty := 0
	if raw := row.Get(colStockQuantity); raw != "" {
		qty, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad stock quantity %q: %w", row.LineNumber, raw, err)
		}
	}
	status := parseStockStatus(row.Get(colStockStatus), qty)

	var images []string
	if !p.opts.SkipImages {
		for _, u := range strings.Split(row.Get(colImages), imageSeparator) {
			if u = strings.TrimSpace(u); u != "" {
				images = append(images, u)
			}
		}
	}

	var attrs []feed.Attribute
	for _, col := range p.attrColumns {
		if v := row.Get(col); v != "" {
			attrs = append(attrs, feed.Attribute{
				Name:  strings.TrimPrefix(col, attrPrefix),
				Value: v,
			})
		}
	}

	var options []feed.Attribute
	for _, col := range p.optionColumns {
		if v := row.Get(col); v != "" {
			options = append(options, feed.Attribute{
				Name:  strings.TrimPrefix(col, optionPrefix),
				Value: v,
			})
		}
	}

	return &item{
		sku:          sku,
		name:         name,
		brand:        row.Get(colBrand),
		model:        row.Get(colModel),
		manufacturer: row.Get(colManufacturer),
		category:     row.Get(colCategory),
		description:  row.Get(colDescription),
		attributes:   attrs,
		images:       images,
		variant: feed.VariantRecord{
			SKU:            sku,
			Barcode:        row.Get(colBarcode),
			MPN:            row.Get(colMPN),
			Price:          price,
			CompareAtPrice: compareAt,
			InStock:        qty > 0 || status == feed.StockStatusInStock,
			StockQuantity:  qty,
			StockStatus:    status,
			Options:        options,
			ImageURLs:      images,
		},
	}, nil
}

func parseStockStatus(raw string, qty int) feed.StockStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in_stock", "instock", "available":
		return feed.StockStatusInStock
	case "out_of_stock", "outofstock", "unavailable":
		return feed.StockStatusOutOfStock
	case "preorder", "pre_order":
		return feed.StockStatusPreorder
	case "":
		if qty > 0 {
			return feed.StockStatusInStock
		}
		return feed.StockStatusOutOfStock
	default:
		return feed.StockStatusUnknown
	}
}

// flush turns the buffered group into one product record and resets the
// buffer. Callers must ensure the buffer is non-empty.
func (p *StreamParser) flush() *feed.ProductRecord {
	first := p.buffer[0]

	var images []string
	if !p.opts.SkipImages {
		for _, it := range p.buffer {
			images = append(images, it.images...)
		}
		images = dedupeImages(images, p.opts.MaxImagesPerProduct, p.opts.PreferredImageHosts)
	}

	rec := &feed.ProductRecord{
		SupplierSKU:  first.sku,
		Name:         first.name,
		CategoryPath: splitCategoryPath(first.category),
		Manufacturer: first.manufacturer,
		Brand:        first.brand,
		Model:        first.model,
		Description:  first.description,
		Attributes:   first.attributes,
		ImageURLs:    images,
		StockStatus:  feed.StockStatusOutOfStock,
	}

	for i, it := range p.buffer {
		v := it.variant
		if i == 0 {
			rec.PriceMin = v.Price
			rec.PriceMax = v.Price
		} else {
			if v.Price.LessThan(rec.PriceMin) {
				rec.PriceMin = v.Price
			}
			if v.Price.GreaterThan(rec.PriceMax) {
				rec.PriceMax = v.Price
			}
		}
		if v.InStock {
			rec.StockStatus = feed.StockStatusInStock
		}
		rec.Variants = append(rec.Variants, v)
	}

	p.buffer = p.buffer[:0]
	p.current = ""
	p.stats.Emitted++
	return rec
}
