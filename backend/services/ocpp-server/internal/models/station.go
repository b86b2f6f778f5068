package models

import "time"

// Station status values kept by the directory.
const (
	StationAvailable = "available"
	StationCharging  = "charging"
	StationError     = "error"
	StationOffline   = "offline"
)

// Station represents a charging station record owned by the directory.
type Station struct {
	ID                   string    `db:"id" json:"id"`
	Vendor               string    `db:"vendor" json:"vendor"`
	Model                string    `db:"model" json:"model"`
	FirmwareVersion      string    `db:"firmware_version" json:"firmware_version"`
	Status               string    `db:"status" json:"status"`
	LastHeartbeat        time.Time `db:"last_heartbeat" json:"last_heartbeat"`
	TotalEnergyDelivered float64   `db:"total_energy_delivered" json:"total_energy_delivered"`
	TotalSessions        int       `db:"total_sessions" json:"total_sessions"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}
