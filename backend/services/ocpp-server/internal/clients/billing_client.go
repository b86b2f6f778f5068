package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BillingClient notifies the billing service about completed sessions.
type BillingClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// SessionStoppedRequest payload for stop event.
type SessionStoppedRequest struct {
	SessionID     string    `json:"session_id"`
	StationID     string    `json:"station_id"`
	TransactionID int64     `json:"transaction_id"`
	IdTag         string    `json:"id_tag"`
	EnergyKWh     float64   `json:"energy_kwh"`
	Cost          float64   `json:"cost"`
	EndTime       time.Time `json:"end_time"`
}

// NewBillingClient returns HTTP client wrapper.
func NewBillingClient(baseURL string, logger *zap.Logger) *BillingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// NotifySessionStop best-effort call.
func (c *BillingClient) NotifySessionStop(ctx context.Context, req SessionStoppedRequest) error {
	if c.baseURL == "" {
		c.logger.Debug("billing client disabled, skip stop notification")
		return nil
	}
	return c.post(ctx, "/internal/ocpp/session-stopped", req)
}

func (c *BillingClient) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", c.baseURL, path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("billing client request failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("billing client returned non-success", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("billing: status %d", resp.StatusCode)
	}
	return nil
}
