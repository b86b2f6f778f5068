package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/directory"
	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/models"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/service"
)

// NewBootNotificationHandler accepts every station. Known stations get their metadata
// refreshed, unknown ones are registered.
func NewBootNotificationHandler(dir directory.Directory, state *service.StationState, publisher events.Publisher, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		fields := directory.Fields{
			directory.FieldVendor:          req.ChargePointVendor,
			directory.FieldModel:           req.ChargePointModel,
			directory.FieldFirmwareVersion: req.FirmwareVersion,
			directory.FieldLastHeartbeat:   now,
			directory.FieldStatus:          models.StationAvailable,
		}

		if _, err := dir.GetStation(ctx, stationID); err != nil {
			if _, err := dir.RegisterStation(ctx, stationID, fields); err != nil {
				logger.Warn("failed to register station", zap.String("station_id", stationID), zap.Error(err))
			} else {
				logger.Info("station registered", zap.String("station_id", stationID), zap.String("model", req.ChargePointModel))
			}
		} else if err := dir.UpdateStation(ctx, stationID, fields); err != nil {
			logger.Warn("failed to update station on boot", zap.String("station_id", stationID), zap.Error(err))
		}
		state.UpdateStation(stationID, models.StationAvailable)

		if err := publisher.Publish(ctx, events.Event{
			Type:      events.TypeStationBooted,
			StationID: stationID,
			Timestamp: now,
			Data: map[string]interface{}{
				"vendor":           req.ChargePointVendor,
				"model":            req.ChargePointModel,
				"firmware_version": req.FirmwareVersion,
			},
		}); err != nil {
			logger.Debug("boot event not published", zap.String("station_id", stationID), zap.Error(err))
		}

		return protocol.BootNotificationResponse{
			CurrentTime: now,
			Interval:    protocol.HeartbeatIntervalSeconds,
			Status:      protocol.RegistrationAccepted,
		}, nil
	}
}
