package directory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/cache"
	"ocpphub/backend/services/ocpp-server/internal/models"
)

// StationRepository persists stations.
type StationRepository interface {
	Upsert(ctx context.Context, station *models.Station) error
	Update(ctx context.Context, stationID string, values map[string]any) error
	Get(ctx context.Context, stationID string) (*models.Station, error)
}

// SessionRepository persists sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetActive(ctx context.Context, stationID string) (*models.Session, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Update(ctx context.Context, sessionID string, values map[string]any) error
}

// SessionCache holds the active session per station.
type SessionCache interface {
	Save(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, stationID string) (*models.Session, error)
	Delete(ctx context.Context, stationID string) error
}

// Store is the postgres backed Directory with an optional redis cache in front of active
// session lookups. Cache failures are logged and never fail a call.
type Store struct {
	stations StationRepository
	sessions SessionRepository
	cache    SessionCache
	logger   *zap.Logger
}

// NewStore builds Store. sessionCache may be nil.
func NewStore(stations StationRepository, sessions SessionRepository, sessionCache SessionCache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{stations: stations, sessions: sessions, cache: sessionCache, logger: logger}
}

// RegisterStation upserts the station.
func (s *Store) RegisterStation(ctx context.Context, stationID string, fields Fields) (*models.Station, error) {
	st := &models.Station{ID: stationID, Status: models.StationOffline}
	if err := ApplyStation(st, fields); err != nil {
		return nil, Unavailable("registerStation", err)
	}
	if err := s.stations.Upsert(ctx, st); err != nil {
		return nil, Unavailable("registerStation", err)
	}
	return st, nil
}

// UpdateStation patches the station.
func (s *Store) UpdateStation(ctx context.Context, stationID string, fields Fields) error {
	values, err := stationValues(fields)
	if err != nil {
		return Unavailable("updateStation", err)
	}
	if err := s.stations.Update(ctx, stationID, values); err != nil {
		return Unavailable("updateStation", err)
	}
	return nil
}

// GetStation loads the station.
func (s *Store) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	st, err := s.stations.Get(ctx, stationID)
	if err != nil {
		return nil, Unavailable("getStation", err)
	}
	return st, nil
}

// CreateSession inserts an active session and caches it.
func (s *Store) CreateSession(ctx context.Context, stationID string, fields Fields) (*models.Session, error) {
	session := &models.Session{StationID: stationID, Status: models.SessionActive, StartTime: time.Now().UTC()}
	if err := ApplySession(session, fields); err != nil {
		return nil, Unavailable("createSession", err)
	}
	session.StationID = stationID
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, Unavailable("createSession", err)
	}
	if session.Status == models.SessionActive {
		s.cacheSave(ctx, session)
	}
	return session, nil
}

// GetActiveSession consults the cache first and falls back to postgres.
func (s *Store) GetActiveSession(ctx context.Context, stationID string) (*models.Session, error) {
	if s.cache != nil {
		session, err := s.cache.Get(ctx, stationID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("active session cache read failed", zap.String("station_id", stationID), zap.Error(err))
		}
	}

	session, err := s.sessions.GetActive(ctx, stationID)
	if err != nil {
		return nil, Unavailable("getActiveSession", err)
	}
	s.cacheSave(ctx, session)
	return session, nil
}

// UpdateSession patches the session and refreshes or evicts its cache entry.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, fields Fields) error {
	values, err := sessionValues(fields)
	if err != nil {
		return Unavailable("updateSession", err)
	}
	if err := s.sessions.Update(ctx, sessionID, values); err != nil {
		return Unavailable("updateSession", err)
	}
	if s.cache == nil {
		return nil
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.logger.Warn("reload session after update failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	if session.Status == models.SessionActive {
		s.cacheSave(ctx, session)
		return nil
	}
	if err := s.cache.Delete(ctx, session.StationID); err != nil {
		s.logger.Warn("active session cache evict failed", zap.String("station_id", session.StationID), zap.Error(err))
	}
	return nil
}

func (s *Store) cacheSave(ctx context.Context, session *models.Session) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(ctx, session); err != nil {
		s.logger.Warn("active session cache write failed", zap.String("station_id", session.StationID), zap.Error(err))
	}
}

var timeFields = map[string]bool{
	FieldLastHeartbeat: true,
	FieldStartTime:     true,
	FieldEndTime:       true,
}

// stationValues validates fields against the station model and converts times.
func stationValues(fields Fields) (map[string]any, error) {
	if err := ApplyStation(&models.Station{}, fields); err != nil {
		return nil, err
	}
	return columnValues(fields)
}

func sessionValues(fields Fields) (map[string]any, error) {
	if _, ok := fields[FieldStationID]; ok {
		return nil, errors.New("station_id cannot be changed")
	}
	if err := ApplySession(&models.Session{}, fields); err != nil {
		return nil, err
	}
	return columnValues(fields)
}

func columnValues(fields Fields) (map[string]any, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		if timeFields[k] {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			values[k] = t
			continue
		}
		values[k] = v
	}
	return values, nil
}
