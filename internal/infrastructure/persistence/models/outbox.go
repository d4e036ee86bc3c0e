package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/feedbridge/backend/internal/domain/shared"
)

// OutboxRecordRow is the persistence model for the syndication outbox.
// It implements the transactional outbox pattern for reliable delivery.
type OutboxRecordRow struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Lane          string     `gorm:"type:varchar(30);not null;index:idx_outbox_lane_status,priority:1;uniqueIndex:idx_outbox_coalesce,priority:2;uniqueIndex:idx_outbox_entity_seq,priority:2"`
	SourceEvent   string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_outbox_coalesce,priority:4"`
	EntityType    string     `gorm:"type:varchar(20);not null"`
	EntityID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_outbox_coalesce,priority:1;uniqueIndex:idx_outbox_entity_seq,priority:1"`
	ModelID       uuid.UUID  `gorm:"type:uuid;not null"`
	ChannelID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_outbox_coalesce,priority:3;uniqueIndex:idx_outbox_entity_seq,priority:3"`
	Sequence      int64      `gorm:"not null;default:0;uniqueIndex:idx_outbox_entity_seq,priority:4"`
	Status        string     `gorm:"type:varchar(20);not null;default:pending;index:idx_outbox_lane_status,priority:2;uniqueIndex:idx_outbox_coalesce,priority:5,where:status = 'pending'"`
	RetryCount    int        `gorm:"not null;default:0"`
	MaxRetries    int        `gorm:"not null;default:5"`
	LastError     string     `gorm:"type:text"`
	HTTPStatus    int        `gorm:"not null;default:0"`
	PayloadDump   []byte     `gorm:"type:jsonb"`
	NextAttemptAt *time.Time `gorm:"index:idx_outbox_next_attempt"`
	ProcessedAt   *time.Time
	CreatedAt     time.Time `gorm:"not null;index:idx_outbox_created"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OutboxRecordRow) TableName() string {
	return "syndication_outbox"
}

// ToDomain converts the persistence model to a domain OutboxRecord
func (m *OutboxRecordRow) ToDomain() *shared.OutboxRecord {
	return &shared.OutboxRecord{
		ID:            m.ID,
		Lane:          shared.Lane(m.Lane),
		SourceEvent:   m.SourceEvent,
		EntityType:    shared.EntityType(m.EntityType),
		EntityID:      m.EntityID,
		ModelID:       m.ModelID,
		ChannelID:     m.ChannelID,
		Sequence:      m.Sequence,
		Status:        shared.OutboxStatus(m.Status),
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		LastError:     m.LastError,
		HTTPStatus:    m.HTTPStatus,
		PayloadDump:   m.PayloadDump,
		NextAttemptAt: m.NextAttemptAt,
		ProcessedAt:   m.ProcessedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain OutboxRecord
func (m *OutboxRecordRow) FromDomain(r *shared.OutboxRecord) {
	m.ID = r.ID
	m.Lane = string(r.Lane)
	m.SourceEvent = r.SourceEvent
	m.EntityType = string(r.EntityType)
	m.EntityID = r.EntityID
	m.ModelID = r.ModelID
	m.ChannelID = r.ChannelID
	m.Sequence = r.Sequence
	m.Status = string(r.Status)
	m.RetryCount = r.RetryCount
	m.MaxRetries = r.MaxRetries
	m.LastError = r.LastError
	m.HTTPStatus = r.HTTPStatus
	m.PayloadDump = r.PayloadDump
	m.NextAttemptAt = r.NextAttemptAt
	m.ProcessedAt = r.ProcessedAt
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
}

// OutboxRecordRowFromDomain creates a persistence model from a domain record
func OutboxRecordRowFromDomain(r *shared.OutboxRecord) *OutboxRecordRow {
	m := &OutboxRecordRow{}
	m.FromDomain(r)
	return m
}
