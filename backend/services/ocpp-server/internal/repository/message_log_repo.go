package repository

import (
	"context"
	"encoding/json"
)

// MessageLogRepository journals raw OCPP frames.
type MessageLogRepository struct {
	db DBTX
}

// NewMessageLogRepository ctor.
func NewMessageLogRepository(db DBTX) *MessageLogRepository {
	return &MessageLogRepository{db: db}
}

// Save stores one frame. Frames that are not valid JSON are stored with a NULL payload.
func (r *MessageLogRepository) Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error {
	const query = `
		INSERT INTO ocpp_messages (station_id, direction, message_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	var body any
	if json.Valid(payload) {
		body = json.RawMessage(payload)
	}
	_, err := r.db.Exec(ctx, query, stationID, direction, messageType, body)
	return err
}
