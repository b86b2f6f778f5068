package ocpp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

func TestParserParsesAllShapes(t *testing.T) {
	p := NewParser()

	call, err := p.Parse([]byte(`[2,"19223201","BootNotification",{"chargePointVendor":"VendorX","chargePointModel":"SingleSocketCharger"}]`))
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCall, call.MessageType)
	assert.Equal(t, "19223201", call.UniqueID)
	assert.Equal(t, "BootNotification", call.Action)
	assert.JSONEq(t, `{"chargePointVendor":"VendorX","chargePointModel":"SingleSocketCharger"}`, string(call.Payload))

	result, err := p.Parse([]byte(`[3,"abc",{"status":"Accepted"}]`))
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCallResult, result.MessageType)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(result.Payload))

	callErr, err := p.Parse([]byte(`[4,"abc","NotImplemented","no such action",{"hint":"x"}]`))
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCallError, callErr.MessageType)
	assert.Equal(t, "NotImplemented", callErr.ErrorCode)
	assert.Equal(t, "no such action", callErr.ErrorDescription)
	assert.Equal(t, "x", callErr.ErrorDetails["hint"])
}

func TestParserNullPayloadBecomesEmptyObject(t *testing.T) {
	msg, err := NewParser().Parse([]byte(`[2,"1","Heartbeat",null]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(msg.Payload))
}

func TestParserRejectsMalformedFrames(t *testing.T) {
	cases := map[string]string{
		"not json":          `hello`,
		"object":            `{"a":1}`,
		"too short":         `[2,"1"]`,
		"call without body": `[2,"1","Heartbeat"]`,
		"numeric id":        `[2,1,"Heartbeat",{}]`,
		"unknown type":      `[7,"1","Heartbeat",{}]`,
		"short error":       `[4,"1","GenericError"]`,
		"empty action":      `[2,"1","",{}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewParser().Parse([]byte(raw))
			require.Error(t, err)
			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestBuildFrames(t *testing.T) {
	call, err := BuildCall("m-1", "Reset", map[string]string{"type": "Soft"})
	require.NoError(t, err)
	assert.JSONEq(t, `[2,"m-1","Reset",{"type":"Soft"}]`, string(call))

	res, err := BuildCallResult("m-2", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"m-2",{}]`, string(res))

	callErr, err := BuildCallError("", protocol.ErrorCodeInternalError, "boom")
	require.NoError(t, err)
	var frame []interface{}
	require.NoError(t, json.Unmarshal(callErr, &frame))
	assert.Len(t, frame, 5)
	assert.Equal(t, "", frame[1])
	assert.Equal(t, "InternalError", frame[2])
}
