package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/directory"
	"ocpphub/backend/services/ocpp-server/internal/models"
)

// DirectoryClient talks to a remote station/session directory service. Every operation is a
// POST to {baseURL}/{operation} with body {"id", "fields"} answered by {"success", "data"}.
type DirectoryClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type directoryRequest struct {
	ID     string           `json:"id"`
	Fields directory.Fields `json:"fields,omitempty"`
}

type directoryResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// NewDirectoryClient returns HTTP client wrapper. A zero timeout falls back to 5s.
func NewDirectoryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *DirectoryClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// RegisterStation creates or refreshes the station record.
func (c *DirectoryClient) RegisterStation(ctx context.Context, stationID string, fields directory.Fields) (*models.Station, error) {
	var st models.Station
	if err := c.call(ctx, "registerStation", stationID, fields, &st); err != nil {
		return nil, err
	}
	if st.ID == "" {
		st.ID = stationID
	}
	return &st, nil
}

// UpdateStation patches the station.
func (c *DirectoryClient) UpdateStation(ctx context.Context, stationID string, fields directory.Fields) error {
	return c.call(ctx, "updateStation", stationID, fields, nil)
}

// GetStation loads the station.
func (c *DirectoryClient) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	var st models.Station
	if err := c.call(ctx, "getStation", stationID, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateSession opens a session for the station.
func (c *DirectoryClient) CreateSession(ctx context.Context, stationID string, fields directory.Fields) (*models.Session, error) {
	var s models.Session
	if err := c.call(ctx, "createSession", stationID, fields, &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, directory.Unavailable("createSession", fmt.Errorf("directory returned session without id"))
	}
	return &s, nil
}

// GetActiveSession loads the active session of the station.
func (c *DirectoryClient) GetActiveSession(ctx context.Context, stationID string) (*models.Session, error) {
	var s models.Session
	if err := c.call(ctx, "getActiveSession", stationID, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSession patches the session.
func (c *DirectoryClient) UpdateSession(ctx context.Context, sessionID string, fields directory.Fields) error {
	return c.call(ctx, "updateSession", sessionID, fields, nil)
}

// call performs one round trip. Transport errors, non-2xx codes, success=false and empty data
// on reads all collapse into directory.ErrUnavailable.
func (c *DirectoryClient) call(ctx context.Context, operation, id string, fields directory.Fields, out interface{}) error {
	if c.baseURL == "" {
		return directory.Unavailable(operation, fmt.Errorf("directory url not configured"))
	}
	data, err := json.Marshal(directoryRequest{ID: id, Fields: fields})
	if err != nil {
		return directory.Unavailable(operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.baseURL, operation), bytes.NewReader(data))
	if err != nil {
		return directory.Unavailable(operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("directory client request failed", zap.String("operation", operation), zap.Error(err))
		return directory.Unavailable(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("directory client returned non-success",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode))
		return directory.Unavailable(operation, fmt.Errorf("status %d", resp.StatusCode))
	}

	var body directoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return directory.Unavailable(operation, err)
	}
	if !body.Success {
		c.logger.Debug("directory rejected request",
			zap.String("operation", operation),
			zap.String("id", id),
			zap.String("message", body.Message))
		return directory.Unavailable(operation, fmt.Errorf("rejected: %s", body.Message))
	}
	if out == nil {
		return nil
	}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return directory.Unavailable(operation, fmt.Errorf("no data"))
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return directory.Unavailable(operation, err)
	}
	return nil
}
