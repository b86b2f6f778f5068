package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/telemetry"
)

// TelemetryClient forwards meter samples to the telemetry service.
type TelemetryClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewTelemetryClient returns client wrapper.
func NewTelemetryClient(baseURL string, logger *zap.Logger) *TelemetryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelemetryClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Write implements telemetry.Sink.
func (c *TelemetryClient) Write(ctx context.Context, sample telemetry.Sample) error {
	if c.baseURL == "" {
		c.logger.Debug("telemetry client disabled, skipping meter value")
		return nil
	}
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/internal/ocpp/meter-values", c.baseURL), bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("telemetry client request failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("telemetry client returned non-success", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("telemetry: status %d", resp.StatusCode)
	}
	return nil
}
