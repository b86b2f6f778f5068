// Package directory defines the contract with the station/session directory, the external
// collaborator that owns all durable charging state.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

// ErrUnavailable is returned for every failed directory call: transport errors, application
// rejections and missing records alike.
var ErrUnavailable = errors.New("directory: unavailable")

// Fields is a partial update keyed by the field names below.
type Fields map[string]interface{}

// Station field names.
const (
	FieldVendor               = "vendor"
	FieldModel                = "model"
	FieldFirmwareVersion      = "firmware_version"
	FieldStatus               = "status"
	FieldLastHeartbeat        = "last_heartbeat"
	FieldTotalEnergyDelivered = "total_energy_delivered"
	FieldTotalSessions        = "total_sessions"
)

// Session field names. FieldStatus is shared with stations.
const (
	FieldStationID       = "station_id"
	FieldConnectorID     = "connector_id"
	FieldIdTag           = "id_tag"
	FieldStartTime       = "start_time"
	FieldEndTime         = "end_time"
	FieldMeterStart      = "meter_start"
	FieldMeterStop       = "meter_stop"
	FieldEnergyDelivered = "energy_delivered"
	FieldDuration        = "duration"
	FieldCost            = "cost"
)

// Directory is the station/session directory.
type Directory interface {
	RegisterStation(ctx context.Context, stationID string, fields Fields) (*models.Station, error)
	UpdateStation(ctx context.Context, stationID string, fields Fields) error
	GetStation(ctx context.Context, stationID string) (*models.Station, error)
	CreateSession(ctx context.Context, stationID string, fields Fields) (*models.Session, error)
	GetActiveSession(ctx context.Context, stationID string) (*models.Session, error)
	UpdateSession(ctx context.Context, sessionID string, fields Fields) error
}

// Unavailable wraps cause so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, cause)
}

// ApplyStation copies recognised fields onto st.
func ApplyStation(st *models.Station, fields Fields) error {
	for key, value := range fields {
		var err error
		switch key {
		case FieldVendor:
			st.Vendor, err = asString(value)
		case FieldModel:
			st.Model, err = asString(value)
		case FieldFirmwareVersion:
			st.FirmwareVersion, err = asString(value)
		case FieldStatus:
			st.Status, err = asString(value)
		case FieldLastHeartbeat:
			st.LastHeartbeat, err = asTime(value)
		case FieldTotalEnergyDelivered:
			st.TotalEnergyDelivered, err = asFloat(value)
		case FieldTotalSessions:
			var n int64
			n, err = asInt(value)
			st.TotalSessions = int(n)
		default:
			err = fmt.Errorf("unknown station field %q", key)
		}
		if err != nil {
			return fmt.Errorf("directory: field %s: %w", key, err)
		}
	}
	return nil
}

// ApplySession copies recognised fields onto s.
func ApplySession(s *models.Session, fields Fields) error {
	for key, value := range fields {
		var err error
		switch key {
		case FieldStationID:
			s.StationID, err = asString(value)
		case FieldConnectorID:
			var n int64
			n, err = asInt(value)
			s.ConnectorID = int(n)
		case FieldIdTag:
			s.IdTag, err = asString(value)
		case FieldStatus:
			s.Status, err = asString(value)
		case FieldStartTime:
			s.StartTime, err = asTime(value)
		case FieldEndTime:
			var t time.Time
			t, err = asTime(value)
			s.EndTime = &t
		case FieldMeterStart:
			s.MeterStart, err = asInt(value)
		case FieldMeterStop:
			var n int64
			n, err = asInt(value)
			s.MeterStop = &n
		case FieldEnergyDelivered:
			s.EnergyDelivered, err = asFloat(value)
		case FieldDuration:
			var n int64
			n, err = asInt(value)
			s.Duration = int(n)
		case FieldCost:
			s.Cost, err = asFloat(value)
		default:
			err = fmt.Errorf("unknown session field %q", key)
		}
		if err != nil {
			return fmt.Errorf("directory: field %s: %w", key, err)
		}
	}
	return nil
}

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func asFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func asInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func asTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expected time, got %T", v)
}
