package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

var stationColumns = map[string]bool{
	"vendor":                 true,
	"model":                  true,
	"firmware_version":       true,
	"status":                 true,
	"last_heartbeat":         true,
	"total_energy_delivered": true,
	"total_sessions":         true,
}

// StationRepository manages charging station persistence.
type StationRepository struct {
	db DBTX
}

// NewStationRepository returns repository.
func NewStationRepository(db DBTX) *StationRepository {
	return &StationRepository{db: db}
}

// Upsert stores or updates station metadata. Counters of an existing row are preserved.
func (r *StationRepository) Upsert(ctx context.Context, station *models.Station) error {
	const query = `
		INSERT INTO charging_stations (id, vendor, model, firmware_version, status, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			vendor = EXCLUDED.vendor,
			model = EXCLUDED.model,
			firmware_version = EXCLUDED.firmware_version,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = NOW()
		RETURNING total_energy_delivered, total_sessions, created_at, updated_at
	`
	if station.LastHeartbeat.IsZero() {
		station.LastHeartbeat = time.Now().UTC()
	}
	return r.db.QueryRow(ctx, query,
		station.ID,
		station.Vendor,
		station.Model,
		station.FirmwareVersion,
		station.Status,
		station.LastHeartbeat,
	).Scan(&station.TotalEnergyDelivered, &station.TotalSessions, &station.CreatedAt, &station.UpdatedAt)
}

// Update patches the given columns.
func (r *StationRepository) Update(ctx context.Context, stationID string, values map[string]any) error {
	set, args, err := buildUpdate(values, stationColumns, 1)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE charging_stations SET %s WHERE id = $1`, set)
	tag, err := r.db.Exec(ctx, query, append([]any{stationID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads one station.
func (r *StationRepository) Get(ctx context.Context, stationID string) (*models.Station, error) {
	const query = `
		SELECT id, vendor, model, firmware_version, status, last_heartbeat,
		       total_energy_delivered, total_sessions, created_at, updated_at
		FROM charging_stations
		WHERE id = $1
	`
	var st models.Station
	err := r.db.QueryRow(ctx, query, stationID).Scan(
		&st.ID,
		&st.Vendor,
		&st.Model,
		&st.FirmwareVersion,
		&st.Status,
		&st.LastHeartbeat,
		&st.TotalEnergyDelivered,
		&st.TotalSessions,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
