// Package events publishes station and transaction lifecycle events to MQTT.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeStationConnected    = "station.connected"
	TypeStationDisconnected = "station.disconnected"
	TypeStationBooted       = "station.booted"
	TypeTransactionStarted  = "transaction.started"
	TypeTransactionStopped  = "transaction.stopped"
)

// Event is a lifecycle notification.
type Event struct {
	Type          string                 `json:"type"`
	StationID     string                 `json:"station_id"`
	SessionID     string                 `json:"session_id,omitempty"`
	TransactionID int64                  `json:"transaction_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
