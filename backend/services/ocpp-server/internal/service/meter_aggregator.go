package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/directory"
	"ocpphub/backend/services/ocpp-server/internal/metrics"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/telemetry"
)

// MeterAggregator folds MeterValues reports into the active session.
type MeterAggregator struct {
	directory directory.Directory
	txStore   *TransactionStore
	sink      telemetry.Sink
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewMeterAggregator builds the aggregator. sink and m may be nil.
func NewMeterAggregator(dir directory.Directory, txStore *TransactionStore, sink telemetry.Sink, m *metrics.Metrics, logger *zap.Logger) *MeterAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &MeterAggregator{
		directory: dir,
		txStore:   txStore,
		sink:      sink,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Readings are the values extracted from one sampled value set, keyed by measurand.
type Readings map[string]float64

// ExtractReadings parses the sampled values of a set. Values without a measurand are the
// energy register, unparsable values are skipped and kWh/kW are normalised to Wh/W.
func ExtractReadings(values []protocol.SampledValue) Readings {
	readings := make(Readings, len(values))
	for _, sv := range values {
		measurand := sv.Measurand
		if measurand == "" {
			measurand = protocol.MeasurandEnergyActiveImportRegister
		}
		if _, seen := readings[measurand]; seen {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(sv.Value), 64)
		if err != nil {
			continue
		}
		switch sv.Unit {
		case "kWh", "kW":
			v *= 1000
		}
		readings[measurand] = v
	}
	return readings
}

// Ingest applies the first sampled value set of req to the station's active session. Reports
// without values and stations without an active session are ignored. A cumulative reading
// that would lower the recorded energy is rejected.
func (a *MeterAggregator) Ingest(ctx context.Context, stationID string, req protocol.MeterValuesRequest) {
	if len(req.MeterValue) == 0 || len(req.MeterValue[0].SampledValue) == 0 {
		return
	}
	logger := a.logger.With(zap.String("station_id", stationID))

	session, err := a.directory.GetActiveSession(ctx, stationID)
	if err != nil {
		logger.Debug("meter values without active session", zap.Error(err))
		return
	}

	first := req.MeterValue[0]
	readings := ExtractReadings(first.SampledValue)
	now := a.now()
	sampledAt := now
	if first.Timestamp != nil {
		sampledAt = first.Timestamp.UTC()
	}

	sample := telemetry.Sample{
		StationID:   stationID,
		SessionID:   session.ID,
		ConnectorID: req.ConnectorID,
		Timestamp:   sampledAt,
		PowerW:      readings.get(protocol.MeasurandPowerActiveImport),
		Voltage:     readings.get(protocol.MeasurandVoltage),
		CurrentA:    readings.get(protocol.MeasurandCurrentImport),
	}
	if txID, ok := a.txStore.ForSession(session.ID); ok {
		sample.TransactionID = txID
	}

	if register, ok := readings[protocol.MeasurandEnergyActiveImportRegister]; ok {
		energy := (register - float64(session.MeterStart)) / 1000
		if energy < session.EnergyDelivered {
			logger.Warn("meter reading below recorded energy rejected",
				zap.String("session_id", session.ID),
				zap.Float64("reading_wh", register),
				zap.Float64("energy_kwh", energy),
				zap.Float64("recorded_kwh", session.EnergyDelivered))
			a.metrics.MeterRegression()
		} else {
			duration := int(now.Sub(session.StartTime) / time.Minute)
			if duration < 0 {
				duration = 0
			}
			if err := a.directory.UpdateSession(ctx, session.ID, directory.Fields{
				directory.FieldEnergyDelivered: energy,
				directory.FieldDuration:        duration,
			}); err != nil {
				logger.Warn("update session energy failed", zap.String("session_id", session.ID), zap.Error(err))
			}
			sample.EnergyWh = &register
			sample.EnergyKWh = &energy
		}
	}

	if err := a.sink.Write(ctx, sample); err != nil {
		logger.Debug("telemetry sink write failed", zap.Error(err))
	}
}

func (r Readings) get(measurand string) *float64 {
	v, ok := r[measurand]
	if !ok {
		return nil
	}
	return &v
}
