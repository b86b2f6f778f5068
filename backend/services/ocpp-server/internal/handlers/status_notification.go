package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/directory"
	"ocpphub/backend/services/ocpp-server/internal/models"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/service"
)

// StationStatusFor maps a connector status to the station status kept by the directory.
func StationStatusFor(connectorStatus string) string {
	switch connectorStatus {
	case protocol.ConnectorAvailable, protocol.ConnectorPreparing, protocol.ConnectorFinishing:
		return models.StationAvailable
	case protocol.ConnectorCharging:
		return models.StationCharging
	case protocol.ConnectorFaulted:
		return models.StationError
	default:
		return models.StationOffline
	}
}

// NewStatusNotificationHandler updates station/connector status.
func NewStatusNotificationHandler(dir directory.Directory, state *service.StationState, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		status := StationStatusFor(req.Status)
		if err := dir.UpdateStation(ctx, stationID, directory.Fields{directory.FieldStatus: status}); err != nil {
			logger.Warn("failed to update station status", zap.String("station_id", stationID), zap.Error(err))
		}
		state.UpdateStation(stationID, status)
		state.UpdateConnector(stationID, req.ConnectorID, req.Status, req.ErrorCode)

		return protocol.StatusNotificationResponse{}, nil
	}
}
