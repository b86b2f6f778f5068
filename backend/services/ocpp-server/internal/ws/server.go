package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/events"
)

// SubprotocolOCPP16 is negotiated when the station offers it.
const SubprotocolOCPP16 = "ocpp1.6"

// PathPrefix is where stations connect: {PathPrefix}{stationId}.
const PathPrefix = "/ocpp/"

// StationFailer fails the in-flight work of a station that went away.
type StationFailer interface {
	FailStation(stationID string) int
}

// ServerOptions configures Server.
type ServerOptions struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	Auth         *BasicAuth
	Failer       StationFailer
	Events       events.Publisher
}

// Server upgrades HTTP connections to WebSockets for OCPP.
type Server struct {
	manager   *Manager
	processor MessageProcessor
	logger    *zap.Logger
	opts      ServerOptions
	upgrader  websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(manager *Manager, processor MessageProcessor, opts ServerOptions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	return &Server{
		manager:   manager,
		processor: processor,
		logger:    logger,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{SubprotocolOCPP16},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// StationIDFromPath extracts the station id from /ocpp/{stationId}.
func StationIDFromPath(path string) (string, bool) {
	if !strings.HasPrefix(path, PathPrefix) {
		return "", false
	}
	raw := strings.TrimPrefix(path, PathPrefix)
	if raw == "" || strings.Contains(raw, "/") {
		return "", false
	}
	id, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// HandleWS is HTTP handler for the /ocpp/{stationId} endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	stationID, ok := StationIDFromPath(r.URL.EscapedPath())
	if !ok {
		http.Error(w, "station id is required", http.StatusBadRequest)
		return
	}
	if !s.opts.Auth.Authenticate(stationID, r) {
		s.logger.Warn("station authentication failed", zap.String("station_id", stationID), zap.String("remote_addr", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Basic realm="ocpp"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("station_id", stationID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(stationID, conn, s.processor, s.opts.WriteTimeout, s.opts.ReadTimeout, s.logger, func(c *Connection) {
		defer cancel()
		if !s.manager.Unregister(c.StationID(), c) {
			return
		}
		failed := 0
		if s.opts.Failer != nil {
			failed = s.opts.Failer.FailStation(c.StationID())
		}
		s.logger.Info("station disconnected", zap.String("station_id", c.StationID()), zap.Int("failed_commands", failed))
		s.publish(events.Event{Type: events.TypeStationDisconnected, StationID: c.StationID()})
	})
	s.manager.Register(connection)

	go connection.Start(ctx)
	s.logger.Info("station connected",
		zap.String("station_id", stationID),
		zap.String("subprotocol", conn.Subprotocol()),
		zap.String("remote_addr", r.RemoteAddr))
	s.publish(events.Event{
		Type:      events.TypeStationConnected,
		StationID: stationID,
		Data:      map[string]interface{}{"remote_addr": r.RemoteAddr},
	})
}

func (s *Server) publish(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Events.Publish(ctx, event); err != nil {
		s.logger.Debug("connection event not published", zap.String("station_id", event.StationID), zap.Error(err))
	}
}
