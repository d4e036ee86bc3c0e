package syndication

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feedbridge/backend/internal/domain/shared"
)

// Uploader is the object-storage capability the dead-letter path needs
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// DeadLetterArchiver writes rejected payloads to object storage so failed
// records stay inspectable after the outbox row is compacted or reset
type DeadLetterArchiver struct {
	uploader Uploader
}

// NewDeadLetterArchiver creates an archiver over the given object storage
func NewDeadLetterArchiver(uploader Uploader) *DeadLetterArchiver {
	return &DeadLetterArchiver{uploader: uploader}
}

// deadLetterEnvelope is the archived document: delivery context plus the
// exact payload the channel rejected
type deadLetterEnvelope struct {
	RecordID    string          `json:"record_id"`
	Lane        string          `json:"lane"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	ModelID     string          `json:"model_id"`
	ChannelID   string          `json:"channel_id"`
	SourceEvent string          `json:"source_event"`
	HTTPStatus  int             `json:"http_status,omitempty"`
	LastError   string          `json:"last_error"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ArchivedAt  time.Time       `json:"archived_at"`
}

// Archive stores the record's rejection under deadletters/<id>.json
func (a *DeadLetterArchiver) Archive(ctx context.Context, record *shared.OutboxRecord) error {
	if a == nil || a.uploader == nil {
		return nil
	}

	envelope := deadLetterEnvelope{
		RecordID:    record.ID.String(),
		Lane:        record.Lane.String(),
		EntityType:  string(record.EntityType),
		EntityID:    record.EntityID.String(),
		ModelID:     record.ModelID.String(),
		ChannelID:   record.ChannelID.String(),
		SourceEvent: record.SourceEvent,
		HTTPStatus:  record.HTTPStatus,
		LastError:   record.LastError,
		Payload:     record.PayloadDump,
		ArchivedAt:  time.Now().UTC(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("syndication: failed to encode dead letter: %w", err)
	}

	key := fmt.Sprintf("deadletters/%s.json", record.ID)
	return a.uploader.Upload(ctx, key, body, "application/json")
}
