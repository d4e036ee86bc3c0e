package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/feedbridge/backend/internal/domain/catalog"
)

// CatalogModelRow is the persistence model for a catalog product model
type CatalogModelRow struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	SupplierID     uuid.UUID `gorm:"type:uuid;not null;index:idx_models_supplier"`
	Brand          string    `gorm:"type:varchar(200);not null;index:idx_models_brand"`
	Name           string    `gorm:"type:varchar(500);not null"`
	NormalizedName string    `gorm:"type:varchar(500);not null;index:idx_models_normalized_name"`
	CategoryPath   string    `gorm:"type:text"`
	Description    string    `gorm:"type:text"`
	Checksum       string    `gorm:"type:varchar(64);not null"`
	Version        int       `gorm:"not null;default:1"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CatalogModelRow) TableName() string {
	return "catalog_models"
}

// ToDomain converts the persistence model to a domain Model
func (m *CatalogModelRow) ToDomain() *catalog.Model {
	return &catalog.Model{
		ID:             m.ID,
		SupplierID:     m.SupplierID,
		Brand:          m.Brand,
		Name:           m.Name,
		NormalizedName: m.NormalizedName,
		CategoryPath:   m.CategoryPath,
		Description:    m.Description,
		Checksum:       m.Checksum,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Model
func (m *CatalogModelRow) FromDomain(d *catalog.Model) {
	m.ID = d.ID
	m.SupplierID = d.SupplierID
	m.Brand = d.Brand
	m.Name = d.Name
	m.NormalizedName = d.NormalizedName
	m.CategoryPath = d.CategoryPath
	m.Description = d.Description
	m.Checksum = d.Checksum
	m.Version = d.Version
	m.CreatedAt = d.CreatedAt
	m.UpdatedAt = d.UpdatedAt
}

// JoinCategoryPath renders category segments into the stored representation
func JoinCategoryPath(segments []string) string {
	return strings.Join(segments, " > ")
}

// VariantRow is the persistence model for a catalog variant
type VariantRow struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey"`
	ModelID        uuid.UUID        `gorm:"type:uuid;not null;index:idx_variants_model"`
	SupplierID     uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_variants_supplier_sku,priority:1"`
	SupplierSKU    string           `gorm:"type:varchar(100);not null;uniqueIndex:idx_variants_supplier_sku,priority:2"`
	Barcode        string           `gorm:"type:varchar(50);index:idx_variants_barcode"`
	MPN            string           `gorm:"type:varchar(100);index:idx_variants_mpn"`
	Price          decimal.Decimal  `gorm:"type:numeric(12,2);not null"`
	CompareAtPrice *decimal.Decimal `gorm:"type:numeric(12,2)"`
	InStock        bool             `gorm:"not null;default:false"`
	StockQuantity  int              `gorm:"not null;default:0"`
	OptionLabel    string           `gorm:"type:varchar(500)"`
	Checksum       string           `gorm:"type:varchar(64);not null"`
	Version        int              `gorm:"not null;default:1"`
	LastMatchedAt  *time.Time       `gorm:"index:idx_variants_last_matched"`
	CreatedAt      time.Time        `gorm:"not null"`
	UpdatedAt      time.Time        `gorm:"not null"`
}

// TableName returns the table name for GORM
func (VariantRow) TableName() string {
	return "catalog_variants"
}

// ToDomain converts the persistence model to a domain Variant
func (m *VariantRow) ToDomain() *catalog.Variant {
	return &catalog.Variant{
		ID:             m.ID,
		ModelID:        m.ModelID,
		SupplierID:     m.SupplierID,
		SupplierSKU:    m.SupplierSKU,
		Barcode:        m.Barcode,
		MPN:            m.MPN,
		Price:          m.Price,
		CompareAtPrice: m.CompareAtPrice,
		InStock:        m.InStock,
		StockQuantity:  m.StockQuantity,
		OptionLabel:    m.OptionLabel,
		Checksum:       m.Checksum,
		Version:        m.Version,
		LastMatchedAt:  m.LastMatchedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Variant
func (m *VariantRow) FromDomain(d *catalog.Variant) {
	m.ID = d.ID
	m.ModelID = d.ModelID
	m.SupplierID = d.SupplierID
	m.SupplierSKU = d.SupplierSKU
	m.Barcode = d.Barcode
	m.MPN = d.MPN
	m.Price = d.Price
	m.CompareAtPrice = d.CompareAtPrice
	m.InStock = d.InStock
	m.StockQuantity = d.StockQuantity
	m.OptionLabel = d.OptionLabel
	m.Checksum = d.Checksum
	m.Version = d.Version
	m.LastMatchedAt = d.LastMatchedAt
	m.CreatedAt = d.CreatedAt
	m.UpdatedAt = d.UpdatedAt
}
