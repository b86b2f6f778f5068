package ocpp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Message represents a parsed OCPP-J frame of any of the three RPC shapes.
type Message struct {
	MessageType      int
	UniqueID         string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     map[string]interface{}
}

// Parser decodes raw JSON OCPP frames.
type Parser struct{}

// NewParser returns parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes []byte into Message struct. All failures are *DecodeError.
func (p *Parser) Parse(data []byte) (*Message, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, decodeErr("frame is not a json array", err)
	}

	if len(array) < 3 {
		return nil, decodeErr("malformed frame", nil)
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, decodeErr("read message type", err)
	}

	msg := &Message{MessageType: msgType}
	if err := json.Unmarshal(array[1], &msg.UniqueID); err != nil {
		return nil, decodeErr("read unique id", err)
	}

	switch msgType {
	case protocol.MessageTypeCall:
		if len(array) < 4 {
			return nil, decodeErr("incomplete CALL frame", nil)
		}
		if err := json.Unmarshal(array[2], &msg.Action); err != nil {
			return nil, decodeErr("read action", err)
		}
		if msg.Action == "" {
			return nil, decodeErr("empty action", nil)
		}
		msg.Payload = normalizePayload(array[3])
	case protocol.MessageTypeCallResult:
		msg.Payload = normalizePayload(array[2])
	case protocol.MessageTypeCallError:
		if len(array) < 4 {
			return nil, decodeErr("incomplete CALLERROR frame", nil)
		}
		if err := json.Unmarshal(array[2], &msg.ErrorCode); err != nil {
			return nil, decodeErr("read error code", err)
		}
		if err := json.Unmarshal(array[3], &msg.ErrorDescription); err != nil {
			return nil, decodeErr("read error description", err)
		}
		if len(array) > 4 {
			// details are informational; a non-object value is ignored
			_ = json.Unmarshal(array[4], &msg.ErrorDetails)
		}
	default:
		return nil, decodeErr(fmt.Sprintf("unsupported message type %d", msgType), nil)
	}

	return msg, nil
}

func normalizePayload(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return json.RawMessage("{}")
	}
	return raw
}

// BuildCall builds an outbound CALL frame.
func BuildCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCall, uniqueID, action, body}
	return json.Marshal(frame)
}

// BuildCallResult builds standard CALLRESULT payload.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCallResult, uniqueID, body}
	return json.Marshal(frame)
}

// BuildCallError builds CALLERROR payload.
func BuildCallError(uniqueID, code, description string) ([]byte, error) {
	frame := []interface{}{protocol.MessageTypeCallError, uniqueID, code, description, map[string]string{}}
	return json.Marshal(frame)
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return normalizePayload(v), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return normalizePayload(body), nil
}

// Decode convenience helper for handlers.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if len(payload) == 0 {
		return target, nil
	}
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, err
	}
	return target, nil
}
