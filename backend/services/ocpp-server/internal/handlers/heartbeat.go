package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/directory"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// NewHeartbeatHandler returns server time and records the heartbeat.
func NewHeartbeatHandler(dir directory.Directory, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		now := time.Now().UTC()
		if err := dir.UpdateStation(ctx, stationID, directory.Fields{directory.FieldLastHeartbeat: now}); err != nil {
			logger.Debug("failed to record heartbeat", zap.String("station_id", stationID), zap.Error(err))
		}
		return protocol.HeartbeatResponse{CurrentTime: now}, nil
	}
}
