package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/clients"
	"ocpphub/backend/services/ocpp-server/internal/directory"
	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/models"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// CostPerKWh is the flat tariff applied to completed sessions.
const CostPerKWh = 0.5

const (
	defaultConnectorID = 1
	defaultIdTag       = "unknown"
)

// BillingNotifier is told about completed sessions.
type BillingNotifier interface {
	NotifySessionStop(ctx context.Context, req clients.SessionStoppedRequest) error
}

// TransactionTracker implements StartTransaction and StopTransaction against the directory.
type TransactionTracker struct {
	directory directory.Directory
	txStore   *TransactionStore
	state     *StationState
	billing   BillingNotifier
	events    events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewTransactionTracker builds the tracker. billing and publisher may be nil.
func NewTransactionTracker(
	dir directory.Directory,
	txStore *TransactionStore,
	state *StationState,
	billing BillingNotifier,
	publisher events.Publisher,
	logger *zap.Logger,
) *TransactionTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if state == nil {
		state = NewStationState()
	}
	return &TransactionTracker{
		directory: dir,
		txStore:   txStore,
		state:     state,
		billing:   billing,
		events:    publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func invalidStart() protocol.StartTransactionResponse {
	return protocol.StartTransactionResponse{
		TransactionID: 0,
		IdTagInfo:     protocol.IdTagInfo{Status: protocol.StatusInvalid},
	}
}

// Start opens a session for the station. Directory failures never surface as errors; they
// produce transaction id 0 with status Invalid.
func (t *TransactionTracker) Start(ctx context.Context, stationID string, req protocol.StartTransactionRequest) protocol.StartTransactionResponse {
	logger := t.logger.With(zap.String("station_id", stationID))

	if _, err := t.directory.GetStation(ctx, stationID); err != nil {
		logger.Warn("start transaction for unknown station", zap.Error(err))
		return invalidStart()
	}

	connectorID := defaultConnectorID
	if req.ConnectorID != nil {
		connectorID = *req.ConnectorID
	}
	idTag := req.IdTag
	if idTag == "" {
		idTag = defaultIdTag
	}
	var meterStart int64
	if req.MeterStart != nil {
		meterStart = *req.MeterStart
	}
	now := t.now()

	session, err := t.directory.CreateSession(ctx, stationID, directory.Fields{
		directory.FieldConnectorID:     connectorID,
		directory.FieldIdTag:           idTag,
		directory.FieldStartTime:       now,
		directory.FieldMeterStart:      meterStart,
		directory.FieldEnergyDelivered: 0.0,
		directory.FieldDuration:        0,
		directory.FieldCost:            0.0,
		directory.FieldStatus:          models.SessionActive,
	})
	if err != nil {
		logger.Warn("create session failed", zap.Error(err))
		return invalidStart()
	}

	if err := t.directory.UpdateStation(ctx, stationID, directory.Fields{directory.FieldStatus: models.StationCharging}); err != nil {
		logger.Warn("mark station charging failed", zap.String("session_id", session.ID), zap.Error(err))
		return invalidStart()
	}

	txID := t.txStore.Allocate(TransactionContext{
		SessionID:  session.ID,
		StationID:  stationID,
		MeterStart: meterStart,
		StartedAt:  now,
	})
	t.state.UpdateStation(stationID, models.StationCharging)
	t.state.UpdateConnector(stationID, connectorID, protocol.ConnectorCharging, "")

	logger.Info("transaction started",
		zap.String("session_id", session.ID),
		zap.Int64("transaction_id", txID),
		zap.Int("connector_id", connectorID))
	t.publish(ctx, events.Event{
		Type:          events.TypeTransactionStarted,
		StationID:     stationID,
		SessionID:     session.ID,
		TransactionID: txID,
		Timestamp:     now,
		Data: map[string]interface{}{
			"connector_id": connectorID,
			"id_tag":       idTag,
			"meter_start":  meterStart,
		},
	})

	return protocol.StartTransactionResponse{
		TransactionID: txID,
		IdTagInfo:     protocol.IdTagInfo{Status: protocol.StatusAccepted},
	}
}

// Stop completes the active session of the station. A missing station yields Invalid; a
// missing session is treated as already closed.
func (t *TransactionTracker) Stop(ctx context.Context, stationID string, req protocol.StopTransactionRequest) protocol.StopTransactionResponse {
	logger := t.logger.With(zap.String("station_id", stationID), zap.Int64("transaction_id", req.TransactionID))
	accepted := protocol.StopTransactionResponse{IdTagInfo: protocol.IdTagInfo{Status: protocol.StatusAccepted}}

	station, err := t.directory.GetStation(ctx, stationID)
	if err != nil {
		logger.Warn("stop transaction for unknown station", zap.Error(err))
		return protocol.StopTransactionResponse{IdTagInfo: protocol.IdTagInfo{Status: protocol.StatusInvalid}}
	}

	session, err := t.directory.GetActiveSession(ctx, stationID)
	if err != nil {
		logger.Info("stop transaction without active session", zap.Error(err))
		t.txStore.Release(stationID, req.TransactionID)
		return accepted
	}

	now := t.now()
	duration := int(now.Sub(session.StartTime) / time.Minute)
	if duration < 0 {
		duration = 0
	}
	energy := float64(req.MeterStop-session.MeterStart) / 1000
	cost := energy * CostPerKWh

	if err := t.directory.UpdateSession(ctx, session.ID, directory.Fields{
		directory.FieldStatus:          models.SessionCompleted,
		directory.FieldEndTime:         now,
		directory.FieldDuration:        duration,
		directory.FieldEnergyDelivered: energy,
		directory.FieldMeterStop:       req.MeterStop,
		directory.FieldCost:            cost,
	}); err != nil {
		logger.Warn("complete session failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	if err := t.directory.UpdateStation(ctx, stationID, directory.Fields{
		directory.FieldTotalEnergyDelivered: station.TotalEnergyDelivered + energy,
		directory.FieldTotalSessions:        station.TotalSessions + 1,
		directory.FieldStatus:               models.StationAvailable,
	}); err != nil {
		logger.Warn("update station totals failed", zap.Error(err))
	}

	txID, ok := t.txStore.ForSession(session.ID)
	if !ok {
		txID = req.TransactionID
	}
	t.txStore.ReleaseSession(session.ID)
	t.txStore.Release(stationID, req.TransactionID)
	t.state.UpdateStation(stationID, models.StationAvailable)
	t.state.UpdateConnector(stationID, session.ConnectorID, protocol.ConnectorAvailable, "")

	logger.Info("transaction stopped",
		zap.String("session_id", session.ID),
		zap.Float64("energy_kwh", energy),
		zap.Int("duration_min", duration),
		zap.String("reason", req.Reason))

	if t.billing != nil {
		if err := t.billing.NotifySessionStop(ctx, clients.SessionStoppedRequest{
			SessionID:     session.ID,
			StationID:     stationID,
			TransactionID: txID,
			IdTag:         session.IdTag,
			EnergyKWh:     energy,
			Cost:          cost,
			EndTime:       now,
		}); err != nil {
			logger.Warn("billing stop notification failed", zap.Error(err))
		}
	}
	t.publish(ctx, events.Event{
		Type:          events.TypeTransactionStopped,
		StationID:     stationID,
		SessionID:     session.ID,
		TransactionID: txID,
		Timestamp:     now,
		Data: map[string]interface{}{
			"energy_kwh":   energy,
			"duration_min": duration,
			"cost":         cost,
			"meter_stop":   req.MeterStop,
			"reason":       req.Reason,
		},
	})

	return accepted
}

func (t *TransactionTracker) publish(ctx context.Context, event events.Event) {
	if err := t.events.Publish(ctx, event); err != nil {
		t.logger.Warn("publish event failed",
			zap.String("station_id", event.StationID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}
