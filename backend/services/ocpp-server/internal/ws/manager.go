package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/metrics"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
)

// ConnectionInfo describes a live connection.
type ConnectionInfo struct {
	StationID   string    `json:"station_id"`
	ConnectedAt time.Time `json:"connected_at"`
	RemoteAddr  string    `json:"remote_addr"`
	Subprotocol string    `json:"subprotocol,omitempty"`
}

// Manager tracks station connections. It is the single source of truth for whether a
// station is reachable.
type Manager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pingInterval time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewManager builds connection manager.
func NewManager(pingInterval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		pingInterval: pingInterval,
		metrics:      m,
		logger:       logger,
	}
}

// Register stores conn for its station, replacing and closing any earlier connection.
func (m *Manager) Register(conn *Connection) {
	m.mu.Lock()
	previous := m.connections[conn.StationID()]
	m.connections[conn.StationID()] = conn
	n := len(m.connections)
	m.mu.Unlock()

	m.metrics.SetConnections(n)
	if previous != nil && previous != conn {
		m.logger.Info("replacing existing station connection", zap.String("station_id", conn.StationID()))
		previous.Close()
	}
}

// Unregister removes the entry of stationID only if it still holds conn. It reports whether
// the entry was removed.
func (m *Manager) Unregister(stationID string, conn *Connection) bool {
	m.mu.Lock()
	current, ok := m.connections[stationID]
	if !ok || current != conn {
		m.mu.Unlock()
		return false
	}
	delete(m.connections, stationID)
	n := len(m.connections)
	m.mu.Unlock()

	m.metrics.SetConnections(n)
	return true
}

// Lookup returns the live connection of a station.
func (m *Manager) Lookup(stationID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[stationID]
	return conn, ok
}

// LookupSender implements ocpp.ConnectionLookup.
func (m *Manager) LookupSender(stationID string) (ocpp.Sender, bool) {
	conn, ok := m.Lookup(stationID)
	if !ok {
		return nil, false
	}
	return conn, true
}

// IsOpen reports whether the station has a registered connection.
func (m *Manager) IsOpen(stationID string) bool {
	_, ok := m.Lookup(stationID)
	return ok
}

// Len returns the number of connected stations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Snapshot lists connected stations ordered by id.
func (m *Manager) Snapshot() []ConnectionInfo {
	m.mu.RLock()
	out := make([]ConnectionInfo, 0, len(m.connections))
	for id, conn := range m.connections {
		out = append(out, ConnectionInfo{
			StationID:   id,
			ConnectedAt: conn.ConnectedAt(),
			RemoteAddr:  conn.RemoteAddr(),
			Subprotocol: conn.Subprotocol(),
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// Start begins ping loop to keep connections active. On ctx cancellation every connection
// is closed.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			for _, conn := range m.all() {
				if err := conn.Ping(); err != nil {
					m.logger.Info("ping failed, closing connection", zap.String("station_id", conn.StationID()), zap.Error(err))
					conn.Close()
				}
			}
		}
	}
}

// CloseAll closes every registered connection.
func (m *Manager) CloseAll() {
	for _, conn := range m.all() {
		conn.Close()
	}
}

func (m *Manager) all() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		out = append(out, conn)
	}
	return out
}
