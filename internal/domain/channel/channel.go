// Package channel defines sales channels and the two capabilities a channel
// driver must provide: a Projector that renders catalog state into the
// channel's payload shape, and a Transport that delivers it and classifies
// failures as retryable or terminal.
package channel

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DriverName identifies a channel driver implementation
type DriverName string

const (
	// DriverStorefront pushes per-entity payloads to a REST storefront API
	DriverStorefront DriverName = "storefront"
	// DriverMarketHub pushes batch payloads to a marketplace aggregator API
	DriverMarketHub DriverName = "markethub"
)

// String returns the string representation of the driver name
func (d DriverName) String() string {
	return string(d)
}

// SalesChannel is pure configuration plus identity for the registry lookup.
// Channels own no ingestion or delivery logic.
type SalesChannel struct {
	ID     uuid.UUID
	Name   string
	Driver DriverName
	Active bool
	// Settings holds raw channel-specific configuration (API URL,
	// credentials, category mappings) addressed by key. Drivers decode it
	// into a typed config once, at channel load time.
	Settings  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Setting returns a raw configuration value by key
func (c *SalesChannel) Setting(key string) string {
	return c.Settings[key]
}

// Repository is the persistence port for sales channels
type Repository interface {
	// ListActive returns all active channels
	ListActive(ctx context.Context) ([]*SalesChannel, error)

	// FindByID retrieves a channel by id
	FindByID(ctx context.Context, id uuid.UUID) (*SalesChannel, error)

	// Save persists a channel
	Save(ctx context.Context, ch *SalesChannel) error
}
