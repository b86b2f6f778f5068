package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

func TestMemoryStationLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	_, err := dir.GetStation(ctx, "CP-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	st, err := dir.RegisterStation(ctx, "CP-1", Fields{FieldVendor: "ABB", FieldModel: "Terra", FieldStatus: models.StationAvailable})
	require.NoError(t, err)
	assert.Equal(t, "ABB", st.Vendor)

	require.NoError(t, dir.UpdateStation(ctx, "CP-1", Fields{FieldTotalSessions: 3, FieldTotalEnergyDelivered: 12.5}))

	// re-registering keeps the counters
	_, err = dir.RegisterStation(ctx, "CP-1", Fields{FieldVendor: "ABB", FieldModel: "Terra 2"})
	require.NoError(t, err)

	st, err = dir.GetStation(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, "Terra 2", st.Model)
	assert.Equal(t, 3, st.TotalSessions)
	assert.InDelta(t, 12.5, st.TotalEnergyDelivered, 1e-9)

	assert.ErrorIs(t, dir.UpdateStation(ctx, "missing", Fields{FieldStatus: "x"}), ErrUnavailable)
	assert.ErrorIs(t, dir.UpdateStation(ctx, "CP-1", Fields{"bogus": 1}), ErrUnavailable)
}

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	_, err := dir.GetActiveSession(ctx, "CP-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s, err := dir.CreateSession(ctx, "CP-1", Fields{
		FieldConnectorID: 1,
		FieldIdTag:       "TAG",
		FieldStartTime:   start,
		FieldMeterStart:  int64(1000),
		FieldStatus:      models.SessionActive,
	})
	require.NoError(t, err)
	assert.Equal(t, "session-000001", s.ID)

	active, err := dir.GetActiveSession(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, active.ID)
	assert.Equal(t, int64(1000), active.MeterStart)

	require.NoError(t, dir.UpdateSession(ctx, s.ID, Fields{FieldStatus: models.SessionCompleted, FieldMeterStop: int64(6000)}))
	_, err = dir.GetActiveSession(ctx, "CP-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	done, ok := dir.Session(s.ID)
	require.True(t, ok)
	require.NotNil(t, done.MeterStop)
	assert.Equal(t, int64(6000), *done.MeterStop)
}

func TestMemoryActiveSessionPicksLatest(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	base := time.Now().UTC()

	_, err := dir.CreateSession(ctx, "CP-1", Fields{FieldStartTime: base})
	require.NoError(t, err)
	latest, err := dir.CreateSession(ctx, "CP-1", Fields{FieldStartTime: base.Add(time.Minute)})
	require.NoError(t, err)

	active, err := dir.GetActiveSession(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, latest.ID, active.ID)
}

func TestApplySessionParsesTimestamps(t *testing.T) {
	var s models.Session
	require.NoError(t, ApplySession(&s, Fields{FieldEndTime: "2024-05-01T12:00:00Z", FieldDuration: 90.0}))
	require.NotNil(t, s.EndTime)
	assert.Equal(t, 12, s.EndTime.Hour())
	assert.Equal(t, 90, s.Duration)

	assert.Error(t, ApplySession(&s, Fields{FieldCost: "cheap"}))
	assert.Error(t, ApplyStation(&models.Station{}, Fields{FieldLastHeartbeat: "yesterday"}))
}
