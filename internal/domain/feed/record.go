// Package feed defines the canonical in-memory shape every supplier feed
// parser must emit. Records are transient: created per parse iteration,
// consumed by the matching engine, then discarded.
package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// StockStatus represents availability as reported by the supplier
type StockStatus string

const (
	StockStatusInStock    StockStatus = "in_stock"
	StockStatusOutOfStock StockStatus = "out_of_stock"
	StockStatusPreorder   StockStatus = "preorder"
	StockStatusUnknown    StockStatus = "unknown"
)

// Attribute is one name/value pair. Attributes and variant options keep
// supplier ordering, so they are slices rather than maps.
type Attribute struct {
	Name  string
	Value string
}

// VariantRecord is one sellable variant observation from a supplier feed
type VariantRecord struct {
	SKU            string
	Barcode        string
	MPN            string
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	InStock        bool
	StockQuantity  int
	StockStatus    StockStatus
	// Options are the variant-defining dimensions, e.g. "Size" -> "80x200"
	Options   []Attribute
	ImageURLs []string
}

// HasDiscount reports whether the compare-at price exceeds the price
func (v *VariantRecord) HasDiscount() bool {
	return v.CompareAtPrice != nil && v.CompareAtPrice.GreaterThan(v.Price)
}

// DiscountPercent derives the discount from price and compare-at price.
// It is never stored: recomputing keeps the two price fields authoritative.
func (v *VariantRecord) DiscountPercent() decimal.Decimal {
	if !v.HasDiscount() || v.CompareAtPrice.IsZero() {
		return decimal.Zero
	}
	diff := v.CompareAtPrice.Sub(v.Price)
	return diff.Div(*v.CompareAtPrice).Mul(decimal.NewFromInt(100)).Round(2)
}

// Validate checks the variant invariants
func (v *VariantRecord) Validate() error {
	if v.Price.IsNegative() {
		return fmt.Errorf("feed: variant %q has negative price %s", v.SKU, v.Price)
	}
	if v.CompareAtPrice != nil && v.CompareAtPrice.IsNegative() {
		return fmt.Errorf("feed: variant %q has negative compare-at price", v.SKU)
	}
	if v.StockQuantity < 0 {
		return fmt.Errorf("feed: variant %q has negative stock quantity", v.SKU)
	}
	return nil
}

// OptionLabel renders the options as a single human-readable label,
// e.g. "Size: 80x200, Color: oak"
func (v *VariantRecord) OptionLabel() string {
	parts := make([]string, 0, len(v.Options))
	for _, o := range v.Options {
		parts = append(parts, o.Name+": "+o.Value)
	}
	return strings.Join(parts, ", ")
}

// ProductRecord is the canonical normalized product one parse iteration emits.
// A product without explicit variants is treated as having one implicit
// variant (see EffectiveVariants).
type ProductRecord struct {
	SupplierSKU  string
	Name         string
	CategoryPath []string
	Manufacturer string
	Brand        string
	Model        string
	Description  string
	PriceMin     decimal.Decimal
	PriceMax     decimal.Decimal
	StockStatus  StockStatus
	Attributes   []Attribute
	ImageURLs    []string
	Variants     []VariantRecord
}

// EffectiveVariants returns the explicit variants, or one implicit variant
// synthesized from the product itself when none were parsed
func (p *ProductRecord) EffectiveVariants() []VariantRecord {
	if len(p.Variants) > 0 {
		return p.Variants
	}
	return []VariantRecord{{
		SKU:         p.SupplierSKU,
		Price:       p.PriceMin,
		InStock:     p.StockStatus == StockStatusInStock,
		StockStatus: p.StockStatus,
		ImageURLs:   p.ImageURLs,
	}}
}

// Validate checks the product invariants
func (p *ProductRecord) Validate() error {
	if p.SupplierSKU == "" {
		return errors.New("feed: product requires a supplier SKU")
	}
	if p.Name == "" {
		return fmt.Errorf("feed: product %q requires a name", p.SupplierSKU)
	}
	if p.PriceMin.IsNegative() || p.PriceMax.IsNegative() {
		return fmt.Errorf("feed: product %q has negative price bounds", p.SupplierSKU)
	}
	for i := range p.Variants {
		if err := p.Variants[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Checksum is a pure, deterministic hash over sku/name/price/attributes/
// variants, used downstream to detect no-op updates. Two records with the
// same commercial content always hash identically.
func (p *ProductRecord) Checksum() string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, s := range parts {
			h.Write([]byte(s))
			h.Write([]byte{0})
		}
	}

	write(p.SupplierSKU, p.Name, p.Brand, p.Model, p.Description)
	write(p.CategoryPath...)
	write(p.PriceMin.String(), p.PriceMax.String(), string(p.StockStatus))
	for _, a := range p.Attributes {
		write(a.Name, a.Value)
	}
	for _, v := range p.Variants {
		write(v.SKU, v.Barcode, v.MPN, v.Price.String())
		if v.CompareAtPrice != nil {
			write(v.CompareAtPrice.String())
		}
		write(fmt.Sprintf("%t/%d/%s", v.InStock, v.StockQuantity, v.StockStatus))
		for _, o := range v.Options {
			write(o.Name, o.Value)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
