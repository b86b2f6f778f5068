package ocpp

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotConnected is returned when a command targets a station without a live connection.
	ErrDeviceNotConnected = errors.New("ocpp: device not connected")
	// ErrCommandTimeout is returned when no reply arrives before the command deadline.
	ErrCommandTimeout = errors.New("ocpp: command timeout")
	// ErrDeviceDisconnected is returned for commands still pending when their station disconnects.
	ErrDeviceDisconnected = errors.New("ocpp: device disconnected")
)

// RemoteError is a CallError returned by the station.
type RemoteError struct {
	Code        string
	Description string
	Details     map[string]interface{}
}

func (e *RemoteError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("ocpp: remote error %s", e.Code)
	}
	return fmt.Sprintf("ocpp: remote error %s: %s", e.Code, e.Description)
}

// DecodeError reports a malformed inbound frame.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ocpp: %s: %v", e.Reason, e.Err)
	}
	return "ocpp: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}
