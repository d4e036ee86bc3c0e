package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feedbridge/backend/internal/domain/channel"
)

// SalesChannelRow is the persistence model for a sales channel
type SalesChannelRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:varchar(200);not null"`
	Driver    string    `gorm:"type:varchar(50);not null;index:idx_channels_driver"`
	Active    bool      `gorm:"not null;default:false;index:idx_channels_active"`
	Settings  []byte    `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SalesChannelRow) TableName() string {
	return "sales_channels"
}

// ToDomain converts the persistence model to a domain SalesChannel
func (m *SalesChannelRow) ToDomain() (*channel.SalesChannel, error) {
	settings := map[string]string{}
	if len(m.Settings) > 0 {
		if err := json.Unmarshal(m.Settings, &settings); err != nil {
			return nil, fmt.Errorf("channel %s has malformed settings: %w", m.ID, err)
		}
	}
	return &channel.SalesChannel{
		ID:        m.ID,
		Name:      m.Name,
		Driver:    channel.DriverName(m.Driver),
		Active:    m.Active,
		Settings:  settings,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// FromDomain populates the persistence model from a domain SalesChannel
func (m *SalesChannelRow) FromDomain(d *channel.SalesChannel) error {
	settings, err := json.Marshal(d.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode channel settings: %w", err)
	}
	m.ID = d.ID
	m.Name = d.Name
	m.Driver = string(d.Driver)
	m.Active = d.Active
	m.Settings = settings
	m.CreatedAt = d.CreatedAt
	m.UpdatedAt = d.UpdatedAt
	return nil
}
