package models

import "time"

// Session status values.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Session represents one charging transaction as stored by the directory. Meter values are
// in Wh, energy in kWh and duration in whole minutes.
type Session struct {
	ID              string     `db:"id" json:"id"`
	StationID       string     `db:"station_id" json:"station_id"`
	ConnectorID     int        `db:"connector_id" json:"connector_id"`
	IdTag           string     `db:"id_tag" json:"id_tag"`
	Status          string     `db:"status" json:"status"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	EndTime         *time.Time `db:"end_time" json:"end_time,omitempty"`
	MeterStart      int64      `db:"meter_start" json:"meter_start"`
	MeterStop       *int64     `db:"meter_stop" json:"meter_stop,omitempty"`
	EnergyDelivered float64    `db:"energy_delivered" json:"energy_delivered"`
	Duration        int        `db:"duration" json:"duration"`
	Cost            float64    `db:"cost" json:"cost"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}
