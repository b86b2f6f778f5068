package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

var sessionColumns = map[string]bool{
	"connector_id":     true,
	"id_tag":           true,
	"status":           true,
	"start_time":       true,
	"end_time":         true,
	"meter_start":      true,
	"meter_stop":       true,
	"energy_delivered": true,
	"duration":         true,
	"cost":             true,
}

const sessionSelect = `
	SELECT id::text, station_id, connector_id, id_tag, status, start_time, end_time,
	       meter_start, meter_stop, energy_delivered, duration, cost, created_at, updated_at
	FROM charging_sessions
`

// SessionRepository handles persistence of charging sessions.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository returns repository.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts session and fills its generated id and timestamps.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	const query = `
		INSERT INTO charging_sessions (station_id, connector_id, id_tag, status, start_time, meter_start, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id::text, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		session.StationID,
		session.ConnectorID,
		session.IdTag,
		session.Status,
		session.StartTime,
		session.MeterStart,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
}

// GetActive returns the latest active session of the station.
func (r *SessionRepository) GetActive(ctx context.Context, stationID string) (*models.Session, error) {
	query := sessionSelect + `
		WHERE station_id = $1 AND status = 'active'
		ORDER BY start_time DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, stationID))
}

// Get loads a session by id.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	id, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}
	return r.scanOne(r.db.QueryRow(ctx, sessionSelect+` WHERE id = $1`, id))
}

// Update patches the given columns.
func (r *SessionRepository) Update(ctx context.Context, sessionID string, values map[string]any) error {
	id, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return ErrNotFound
	}
	set, args, err := buildUpdate(values, sessionColumns, 1)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE charging_sessions SET %s WHERE id = $1`, set)
	tag, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SessionRepository) scanOne(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID,
		&s.StationID,
		&s.ConnectorID,
		&s.IdTag,
		&s.Status,
		&s.StartTime,
		&s.EndTime,
		&s.MeterStart,
		&s.MeterStop,
		&s.EnergyDelivered,
		&s.Duration,
		&s.Cost,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
