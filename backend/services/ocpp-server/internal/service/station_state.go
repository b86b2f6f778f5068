package service

import (
	"sort"
	"sync"
	"time"
)

// ConnectorState holds the last reported connector status.
type ConnectorState struct {
	ConnectorID int       `json:"connector_id"`
	Status      string    `json:"status"`
	ErrorCode   string    `json:"error_code,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StationRuntimeState keeps runtime info per station.
type StationRuntimeState struct {
	Status     string
	Connectors map[int]ConnectorState
}

// StationState keeps in-memory station data for the stations API. It is a cache of what
// stations reported, the directory stays authoritative.
type StationState struct {
	mu       sync.RWMutex
	stations map[string]*StationRuntimeState
}

// NewStationState returns state store.
func NewStationState() *StationState {
	return &StationState{
		stations: make(map[string]*StationRuntimeState),
	}
}

func (s *StationState) entry(stationID string) *StationRuntimeState {
	state, ok := s.stations[stationID]
	if !ok {
		state = &StationRuntimeState{Connectors: make(map[int]ConnectorState)}
		s.stations[stationID] = state
	}
	return state
}

// UpdateStation updates station status.
func (s *StationState) UpdateStation(stationID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(stationID).Status = status
}

// UpdateConnector updates connector-level status.
func (s *StationState) UpdateConnector(stationID string, connectorID int, status, errorCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(stationID).Connectors[connectorID] = ConnectorState{
		ConnectorID: connectorID,
		Status:      status,
		ErrorCode:   errorCode,
		UpdatedAt:   time.Now().UTC(),
	}
}

// Station returns a copy of the station state.
func (s *StationState) Station(stationID string) (StationRuntimeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[stationID]
	if !ok {
		return StationRuntimeState{}, false
	}
	return copyState(st), true
}

// Connectors returns the connectors of a station ordered by id.
func (s *StationState) Connectors(stationID string) []ConnectorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[stationID]
	if !ok {
		return nil
	}
	out := make([]ConnectorState, 0, len(st.Connectors))
	for _, c := range st.Connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	return out
}

// Snapshot returns a copy of current state map.
func (s *StationState) Snapshot() map[string]StationRuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]StationRuntimeState, len(s.stations))
	for id, st := range s.stations {
		result[id] = copyState(st)
	}
	return result
}

func copyState(st *StationRuntimeState) StationRuntimeState {
	c := StationRuntimeState{
		Status:     st.Status,
		Connectors: make(map[int]ConnectorState, len(st.Connectors)),
	}
	for cid, conn := range st.Connectors {
		c.Connectors[cid] = conn
	}
	return c
}
