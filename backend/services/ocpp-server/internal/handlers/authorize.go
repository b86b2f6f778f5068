package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// NewAuthorizeHandler accepts every id tag.
func NewAuthorizeHandler(logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.AuthorizeRequest](payload)
		if err != nil {
			logger.Debug("authorize payload not decoded", zap.String("station_id", stationID), zap.Error(err))
		}
		logger.Debug("authorize", zap.String("station_id", stationID), zap.String("id_tag", req.IdTag))
		return protocol.AuthorizeResponse{IdTagInfo: protocol.IdTagInfo{Status: protocol.StatusAccepted}}, nil
	}
}

// NewDataTransferHandler accepts vendor data without interpreting it.
func NewDataTransferHandler(logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.DataTransferRequest](payload)
		if err != nil {
			logger.Debug("data transfer payload not decoded", zap.String("station_id", stationID), zap.Error(err))
		}
		logger.Debug("data transfer",
			zap.String("station_id", stationID),
			zap.String("vendor_id", req.VendorID),
			zap.String("message_id", req.MessageID),
			zap.Int("data_bytes", len(req.Data)))
		return protocol.DataTransferResponse{Status: protocol.StatusAccepted}, nil
	}
}
