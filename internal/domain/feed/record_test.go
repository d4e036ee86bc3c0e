package feed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestVariantRecord_Discount(t *testing.T) {
	tests := []struct {
		name        string
		price       string
		compareAt   *decimal.Decimal
		hasDiscount bool
		percent     string
	}{
		{"no compare-at price", "100", nil, false, "0"},
		{"compare-at below price", "100", decPtr("80"), false, "0"},
		{"compare-at equals price", "100", decPtr("100"), false, "0"},
		{"quarter off", "75", decPtr("100"), true, "25"},
		{"uneven discount", "89.99", decPtr("129.99"), true, "30.77"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := VariantRecord{Price: dec(tt.price), CompareAtPrice: tt.compareAt}
			assert.Equal(t, tt.hasDiscount, v.HasDiscount())
			assert.True(t, dec(tt.percent).Equal(v.DiscountPercent()),
				"expected %s, got %s", tt.percent, v.DiscountPercent())
		})
	}
}

func TestVariantRecord_Validate(t *testing.T) {
	valid := VariantRecord{SKU: "A-1", Price: dec("10")}
	assert.NoError(t, valid.Validate())

	negative := VariantRecord{SKU: "A-2", Price: dec("-1")}
	assert.Error(t, negative.Validate())

	negativeStock := VariantRecord{SKU: "A-3", Price: dec("10"), StockQuantity: -5}
	assert.Error(t, negativeStock.Validate())
}

func TestProductRecord_EffectiveVariants_Implicit(t *testing.T) {
	p := ProductRecord{
		SupplierSKU: "SUP-1",
		Name:        "Box mattress",
		PriceMin:    dec("199"),
		PriceMax:    dec("199"),
		StockStatus: StockStatusInStock,
	}

	variants := p.EffectiveVariants()
	require.Len(t, variants, 1)
	assert.Equal(t, "SUP-1", variants[0].SKU)
	assert.True(t, variants[0].InStock)
	assert.True(t, dec("199").Equal(variants[0].Price))
}

func TestProductRecord_Checksum_Deterministic(t *testing.T) {
	build := func() *ProductRecord {
		return &ProductRecord{
			SupplierSKU:  "SUP-9",
			Name:         "Oak bed frame",
			Brand:        "Nordwood",
			Model:        "Bergen",
			CategoryPath: []string{"Furniture", "Beds"},
			PriceMin:     dec("450"),
			PriceMax:     dec("520"),
			Attributes:   []Attribute{{Name: "Material", Value: "oak"}},
			Variants: []VariantRecord{
				{SKU: "SUP-9-80", Price: dec("450"), Options: []Attribute{{Name: "Size", Value: "80x200"}}},
				{SKU: "SUP-9-90", Price: dec("520"), Options: []Attribute{{Name: "Size", Value: "90x200"}}},
			},
		}
	}

	a, b := build(), build()
	assert.Equal(t, a.Checksum(), b.Checksum())

	// Any commercial field change must change the hash
	b.Variants[1].Price = dec("530")
	assert.NotEqual(t, a.Checksum(), b.Checksum())

	c := build()
	c.Attributes = append(c.Attributes, Attribute{Name: "Finish", Value: "matte"})
	assert.NotEqual(t, a.Checksum(), c.Checksum())
}

func TestProductRecord_Checksum_AttributeOrderSensitive(t *testing.T) {
	// Attribute ordering is part of the canonical record, so swapping it is
	// a content change, not a no-op.
	a := ProductRecord{SupplierSKU: "S", Name: "N", Attributes: []Attribute{{"A", "1"}, {"B", "2"}}}
	b := ProductRecord{SupplierSKU: "S", Name: "N", Attributes: []Attribute{{"B", "2"}, {"A", "1"}}}
	assert.NotEqual(t, a.Checksum(), b.Checksum())
}

func TestProductRecord_Validate(t *testing.T) {
	p := ProductRecord{SupplierSKU: "S-1", Name: "Chair", PriceMin: dec("10"), PriceMax: dec("10")}
	assert.NoError(t, p.Validate())

	p.SupplierSKU = ""
	assert.Error(t, p.Validate())
}
