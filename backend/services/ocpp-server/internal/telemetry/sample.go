// Package telemetry forwards meter samples to external time series sinks.
package telemetry

import (
	"context"
	"errors"
	"time"
)

// Sample is one decoded meter reading of an active session. Nil readings were not reported.
type Sample struct {
	StationID     string    `json:"station_id"`
	SessionID     string    `json:"session_id"`
	ConnectorID   int       `json:"connector_id"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	EnergyWh      *float64  `json:"energy_wh,omitempty"`
	EnergyKWh     *float64  `json:"energy_kwh,omitempty"`
	PowerW        *float64  `json:"power_w,omitempty"`
	Voltage       *float64  `json:"voltage,omitempty"`
	CurrentA      *float64  `json:"current_a,omitempty"`
}

// Sink receives samples.
type Sink interface {
	Write(ctx context.Context, sample Sample) error
}

// NopSink drops everything.
type NopSink struct{}

// Write implements Sink.
func (NopSink) Write(context.Context, Sample) error { return nil }

// Fanout writes to every sink and joins their errors.
type Fanout []Sink

// Write implements Sink.
func (f Fanout) Write(ctx context.Context, sample Sample) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Write(ctx, sample); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
