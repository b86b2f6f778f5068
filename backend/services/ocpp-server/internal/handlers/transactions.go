package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/service"
)

// NewStartTransactionHandler delegates to the tracker. Undecodable requests are refused with
// transaction id 0 and status Invalid.
func NewStartTransactionHandler(tracker *service.TransactionTracker, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StartTransactionRequest](payload)
		if err != nil {
			logger.Warn("invalid start transaction payload", zap.String("station_id", stationID), zap.Error(err))
			return protocol.StartTransactionResponse{
				TransactionID: 0,
				IdTagInfo:     protocol.IdTagInfo{Status: protocol.StatusInvalid},
			}, nil
		}
		return tracker.Start(ctx, stationID, req), nil
	}
}

// NewStopTransactionHandler delegates to the tracker. Undecodable requests get status Invalid.
func NewStopTransactionHandler(tracker *service.TransactionTracker, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StopTransactionRequest](payload)
		if err != nil {
			logger.Warn("invalid stop transaction payload", zap.String("station_id", stationID), zap.Error(err))
			return protocol.StopTransactionResponse{IdTagInfo: protocol.IdTagInfo{Status: protocol.StatusInvalid}}, nil
		}
		return tracker.Stop(ctx, stationID, req), nil
	}
}

// NewMeterValuesHandler feeds the aggregator and always acknowledges.
func NewMeterValuesHandler(aggregator *service.MeterAggregator, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.MeterValuesRequest](payload)
		if err != nil {
			logger.Warn("meter values payload dropped", zap.String("station_id", stationID), zap.Error(err))
			return protocol.MeterValuesResponse{}, nil
		}
		aggregator.Ingest(ctx, stationID, req)
		return protocol.MeterValuesResponse{}, nil
	}
}
