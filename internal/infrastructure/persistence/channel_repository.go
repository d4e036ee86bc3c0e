package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/feedbridge/backend/internal/domain/channel"
	"github.com/feedbridge/backend/internal/domain/shared"
	"github.com/feedbridge/backend/internal/infrastructure/persistence/models"
)

// ChannelRepository is the GORM-backed sales channel store
type ChannelRepository struct {
	db *gorm.DB
}

// NewChannelRepository creates a GORM-based channel repository
func NewChannelRepository(db *gorm.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// ListActive returns all channels syndication currently fans out to
func (r *ChannelRepository) ListActive(ctx context.Context) ([]*channel.SalesChannel, error) {
	var rows []models.SalesChannelRow
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	channels := make([]*channel.SalesChannel, 0, len(rows))
	for i := range rows {
		ch, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// FindByID retrieves a single channel
func (r *ChannelRepository) FindByID(ctx context.Context, id uuid.UUID) (*channel.SalesChannel, error) {
	var row models.SalesChannelRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: channel %s", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return row.ToDomain()
}

// Save creates or updates a channel
func (r *ChannelRepository) Save(ctx context.Context, ch *channel.SalesChannel) error {
	row := &models.SalesChannelRow{}
	if err := row.FromDomain(ch); err != nil {
		return err
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
		ch.ID = row.ID
	}
	now := time.Now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	return r.db.WithContext(ctx).Save(row).Error
}

var _ channel.Repository = (*ChannelRepository)(nil)
