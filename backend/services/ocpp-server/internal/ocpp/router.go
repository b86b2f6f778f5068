package ocpp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/metrics"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// HandlerFunc processes message payload and returns response body.
type HandlerFunc func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error)

// Router dispatches OCPP actions to handlers.
type Router struct {
	handlers map[protocol.Action]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[protocol.Action]HandlerFunc)}
}

// Register attaches handler to action.
func (r *Router) Register(action protocol.Action, handler HandlerFunc) {
	r.handlers[action] = handler
}

// Route executes handler for message. Actions without a handler are acknowledged with an
// empty payload.
func (r *Router) Route(ctx context.Context, stationID string, msg *Message) (interface{}, bool, error) {
	handler, ok := r.handlers[protocol.Action(msg.Action)]
	if !ok {
		return struct{}{}, false, nil
	}
	resp, err := handler(ctx, stationID, msg.Payload)
	return resp, true, err
}

// ReplyHandler receives station replies to server initiated calls.
type ReplyHandler interface {
	HandleCallResult(stationID, messageID string, payload json.RawMessage)
	HandleCallError(stationID, messageID, code, description string, details map[string]interface{})
}

// MessageLog journals raw frames.
type MessageLog interface {
	Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error
}

// Processor ties together parsing, routing, and response encoding.
type Processor struct {
	parser  *Parser
	router  *Router
	replies ReplyHandler
	logRepo MessageLog
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewProcessor builds Processor. logRepo and m may be nil.
func NewProcessor(parser *Parser, router *Router, replies ReplyHandler, logRepo MessageLog, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		parser:  parser,
		router:  router,
		replies: replies,
		logRepo: logRepo,
		metrics: m,
		logger:  logger,
	}
}

// Process handles raw message and returns the response frame bytes, or nil when the frame
// was a reply that needs no answer.
func (p *Processor) Process(ctx context.Context, stationID string, raw []byte) ([]byte, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		p.logger.Warn("malformed ocpp frame", zap.String("station_id", stationID), zap.Error(err))
		p.metrics.MessageProcessed("incoming", "invalid", "")
		p.journal(ctx, stationID, "incoming", "invalid", raw)
		return p.encodeError(ctx, stationID, "", "invalid", err.Error())
	}

	switch msg.MessageType {
	case protocol.MessageTypeCallResult:
		p.metrics.MessageProcessed("incoming", "call_result", "")
		p.journal(ctx, stationID, "incoming", "CallResult", raw)
		if p.replies != nil {
			p.replies.HandleCallResult(stationID, msg.UniqueID, msg.Payload)
		}
		return nil, nil
	case protocol.MessageTypeCallError:
		p.metrics.MessageProcessed("incoming", "call_error", "")
		p.journal(ctx, stationID, "incoming", "CallError", raw)
		if p.replies != nil {
			p.replies.HandleCallError(stationID, msg.UniqueID, msg.ErrorCode, msg.ErrorDescription, msg.ErrorDetails)
		}
		return nil, nil
	}

	p.metrics.MessageProcessed("incoming", "call", msg.Action)
	p.journal(ctx, stationID, "incoming", msg.Action, raw)

	responsePayload, handled, err := p.route(ctx, stationID, msg)
	if err != nil {
		p.logger.Warn("ocpp handler failed",
			zap.String("station_id", stationID),
			zap.String("action", msg.Action),
			zap.Error(err))
		return p.encodeError(ctx, stationID, msg.UniqueID, msg.Action, err.Error())
	}
	if !handled {
		p.logger.Info("unsupported action acknowledged with empty payload",
			zap.String("station_id", stationID),
			zap.String("action", msg.Action))
	}

	respBytes, err := BuildCallResult(msg.UniqueID, responsePayload)
	if err != nil {
		p.logger.Error("encode ocpp response failed", zap.String("action", msg.Action), zap.Error(err))
		return p.encodeError(ctx, stationID, msg.UniqueID, msg.Action, err.Error())
	}

	p.metrics.MessageProcessed("outgoing", "call_result", msg.Action)
	p.journal(ctx, stationID, "outgoing", msg.Action, respBytes)
	return respBytes, nil
}

// route shields the read loop from handler panics.
func (p *Processor) route(ctx context.Context, stationID string, msg *Message) (resp interface{}, handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ocpp handler panic",
				zap.String("station_id", stationID),
				zap.String("action", msg.Action),
				zap.Any("panic", r))
			resp, handled, err = nil, true, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.router.Route(ctx, stationID, msg)
}

func (p *Processor) encodeError(ctx context.Context, stationID, uniqueID, action, description string) ([]byte, error) {
	frame, err := BuildCallError(uniqueID, protocol.ErrorCodeInternalError, description)
	if err != nil {
		return nil, err
	}
	p.metrics.MessageProcessed("outgoing", "call_error", action)
	p.journal(ctx, stationID, "outgoing", "CallError", frame)
	return frame, nil
}

func (p *Processor) journal(ctx context.Context, stationID, direction, messageType string, payload []byte) {
	if p.logRepo == nil {
		return
	}
	if err := p.logRepo.Save(ctx, stationID, direction, messageType, payload); err != nil {
		p.logger.Debug("failed to journal ocpp frame", zap.String("station_id", stationID), zap.Error(err))
	}
}
