package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes samples as "meter_sample" points.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
	logger *zap.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string, logger *zap.Logger) *InfluxSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(org, bucket),
		logger: logger,
	}
}

// Ping checks the server health endpoint.
func (s *InfluxSink) Ping(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != "pass" {
		return fmt.Errorf("influx health status: %s", health.Status)
	}
	return nil
}

// Write implements Sink. Samples without any reading are skipped.
func (s *InfluxSink) Write(ctx context.Context, sample Sample) error {
	p, ok := samplePoint(sample)
	if !ok {
		return nil
	}
	if err := s.writer.WritePoint(ctx, p); err != nil {
		s.logger.Warn("influx write failed", zap.String("station_id", sample.StationID), zap.Error(err))
		return err
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func samplePoint(sample Sample) (*write.Point, bool) {
	ts := sample.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p := write.NewPointWithMeasurement("meter_sample").
		AddTag("station_id", sample.StationID).
		AddTag("session_id", sample.SessionID).
		AddTag("connector_id", strconv.Itoa(sample.ConnectorID)).
		SetTime(ts)

	fields := 0
	add := func(name string, v *float64) {
		if v == nil {
			return
		}
		p.AddField(name, round3(*v))
		fields++
	}
	add("energy_wh", sample.EnergyWh)
	add("energy_kwh", sample.EnergyKWh)
	add("power_w", sample.PowerW)
	add("voltage", sample.Voltage)
	add("current_a", sample.CurrentA)
	return p, fields > 0
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
