package handlers

import (
	"net/http"
	"time"

	"ocpphub/backend/services/ocpp-server/internal/service"
	"ocpphub/backend/services/ocpp-server/internal/ws"
)

// ConnectionLister lists live station connections.
type ConnectionLister interface {
	Snapshot() []ws.ConnectionInfo
}

type stationView struct {
	StationID   string                   `json:"station_id"`
	ConnectedAt time.Time                `json:"connected_at"`
	RemoteAddr  string                   `json:"remote_addr"`
	Subprotocol string                   `json:"subprotocol,omitempty"`
	Status      string                   `json:"status,omitempty"`
	Connectors  []service.ConnectorState `json:"connectors"`
}

// NewStationsHandler returns GET /api/stations handler.
func NewStationsHandler(connections ConnectionLister, state *service.StationState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := connections.Snapshot()
		stations := make([]stationView, 0, len(infos))
		for _, info := range infos {
			view := stationView{
				StationID:   info.StationID,
				ConnectedAt: info.ConnectedAt,
				RemoteAddr:  info.RemoteAddr,
				Subprotocol: info.Subprotocol,
				Connectors:  []service.ConnectorState{},
			}
			if st, ok := state.Station(info.StationID); ok {
				view.Status = st.Status
				view.Connectors = append(view.Connectors, state.Connectors(info.StationID)...)
			}
			stations = append(stations, view)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"stations": stations,
			"count":    len(stations),
		})
	}
}
