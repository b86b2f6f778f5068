package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/http/middleware"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
)

// CommandIssuer sends a command to a station and waits for its reply.
type CommandIssuer interface {
	Issue(ctx context.Context, stationID, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
}

type commandRequest struct {
	StationID string          `json:"station_id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
}

type commandResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

// NewCommandHandler returns POST /api/commands handler. Requested timeouts above
// maxTimeout are clamped to it so the reply fits in the server write deadline.
func NewCommandHandler(issuer CommandIssuer, maxTimeout time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.StationID = strings.TrimSpace(req.StationID)
		req.Action = strings.TrimSpace(req.Action)
		if req.StationID == "" || req.Action == "" {
			writeError(w, http.StatusBadRequest, "station_id and action are required")
			return
		}
		if req.TimeoutMs < 0 {
			writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
			return
		}

		subject, _ := middleware.SubjectFromContext(r.Context())
		logger.Info("command requested",
			zap.String("station_id", req.StationID),
			zap.String("action", req.Action),
			zap.String("subject", subject))

		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		if maxTimeout > 0 && timeout > maxTimeout {
			timeout = maxTimeout
		}
		resp, err := issuer.Issue(r.Context(), req.StationID, req.Action, req.Payload, timeout)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ocpp.ErrDeviceNotConnected) {
				status = http.StatusNotFound
			}
			logger.Warn("command failed",
				zap.String("station_id", req.StationID),
				zap.String("action", req.Action),
				zap.Error(err))
			writeError(w, status, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, commandResponse{
			Success:  true,
			Message:  "Command sent successfully",
			Response: resp,
		})
	}
}
