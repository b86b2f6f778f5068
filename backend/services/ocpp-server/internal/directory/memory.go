package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

// Memory is an in-process Directory used for local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	stations map[string]*models.Station
	sessions map[string]*models.Session
	seq      int64
}

// NewMemory returns an empty directory.
func NewMemory() *Memory {
	return &Memory{
		stations: make(map[string]*models.Station),
		sessions: make(map[string]*models.Session),
	}
}

// RegisterStation creates or overwrites the station record.
func (m *Memory) RegisterStation(ctx context.Context, stationID string, fields Fields) (*models.Station, error) {
	now := time.Now().UTC()
	st := &models.Station{ID: stationID, Status: models.StationOffline, CreatedAt: now, UpdatedAt: now}
	if err := ApplyStation(st, fields); err != nil {
		return nil, Unavailable("registerStation", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.stations[stationID]; ok {
		st.CreatedAt = existing.CreatedAt
		st.TotalEnergyDelivered = existing.TotalEnergyDelivered
		st.TotalSessions = existing.TotalSessions
		if err := ApplyStation(st, fields); err != nil {
			return nil, Unavailable("registerStation", err)
		}
	}
	m.stations[stationID] = st
	copied := *st
	return &copied, nil
}

// UpdateStation patches an existing station.
func (m *Memory) UpdateStation(ctx context.Context, stationID string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stations[stationID]
	if !ok {
		return Unavailable("updateStation", fmt.Errorf("station %s not found", stationID))
	}
	updated := *st
	if err := ApplyStation(&updated, fields); err != nil {
		return Unavailable("updateStation", err)
	}
	updated.UpdatedAt = time.Now().UTC()
	m.stations[stationID] = &updated
	return nil
}

// GetStation returns a copy of the station record.
func (m *Memory) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stations[stationID]
	if !ok {
		return nil, Unavailable("getStation", fmt.Errorf("station %s not found", stationID))
	}
	copied := *st
	return &copied, nil
}

// CreateSession stores a new active session for the station.
func (m *Memory) CreateSession(ctx context.Context, stationID string, fields Fields) (*models.Session, error) {
	now := time.Now().UTC()
	s := &models.Session{StationID: stationID, Status: models.SessionActive, StartTime: now, CreatedAt: now, UpdatedAt: now}
	if err := ApplySession(s, fields); err != nil {
		return nil, Unavailable("createSession", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	s.ID = fmt.Sprintf("session-%06d", m.seq)
	m.sessions[s.ID] = s
	copied := *s
	return &copied, nil
}

// GetActiveSession returns the most recently started active session of the station.
func (m *Memory) GetActiveSession(ctx context.Context, stationID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []*models.Session
	for _, s := range m.sessions {
		if s.StationID == stationID && s.Status == models.SessionActive {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, Unavailable("getActiveSession", fmt.Errorf("no active session for %s", stationID))
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartTime.After(active[j].StartTime) })
	copied := *active[0]
	return &copied, nil
}

// UpdateSession patches an existing session.
func (m *Memory) UpdateSession(ctx context.Context, sessionID string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Unavailable("updateSession", fmt.Errorf("session %s not found", sessionID))
	}
	updated := *s
	if err := ApplySession(&updated, fields); err != nil {
		return Unavailable("updateSession", err)
	}
	updated.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = &updated
	return nil
}

// Session returns a copy of any session by id, active or not.
func (m *Memory) Session(sessionID string) (*models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	copied := *s
	return &copied, true
}
