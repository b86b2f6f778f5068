package protocol

import (
	"encoding/json"
	"time"
)

// BootNotificationRequest minimal subset.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
}

// BootNotificationResponse minimal response.
type BootNotificationResponse struct {
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

// HeartbeatResponse returns server time.
type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

// StatusNotificationRequest payload.
type StatusNotificationRequest struct {
	ConnectorID     int        `json:"connectorId"`
	Status          string     `json:"status"`
	ErrorCode       string     `json:"errorCode"`
	Info            string     `json:"info,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	VendorID        string     `json:"vendorId,omitempty"`
	VendorErrorCode string     `json:"vendorErrorCode,omitempty"`
}

// StatusNotificationResponse is empty (ack).
type StatusNotificationResponse struct{}

// StartTransactionRequest payload. Optional fields are pointers so defaults can be applied.
type StartTransactionRequest struct {
	ConnectorID   *int       `json:"connectorId,omitempty"`
	IdTag         string     `json:"idTag"`
	MeterStart    *int64     `json:"meterStart,omitempty"`
	ReservationID *int       `json:"reservationId,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// IdTagInfo carries the authorization verdict.
type IdTagInfo struct {
	Status string `json:"status"`
}

// StartTransactionResponse carries the allocated transaction id.
type StartTransactionResponse struct {
	TransactionID int64     `json:"transactionId"`
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
}

// StopTransactionRequest payload.
type StopTransactionRequest struct {
	TransactionID int64      `json:"transactionId"`
	IdTag         string     `json:"idTag,omitempty"`
	MeterStop     int64      `json:"meterStop"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// StopTransactionResponse ack.
type StopTransactionResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

// SampledValue is a single tagged reading. OCPP transmits values as strings.
type SampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeterValue is one timestamped batch of sampled values.
type MeterValue struct {
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	SampledValue []SampledValue `json:"sampledValue"`
}

// MeterValuesRequest payload for telemetry.
type MeterValuesRequest struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int64       `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

// MeterValuesResponse is empty (ack).
type MeterValuesResponse struct{}

// AuthorizeRequest payload.
type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

// AuthorizeResponse verdict.
type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

// DataTransferRequest payload.
type DataTransferRequest struct {
	VendorID  string          `json:"vendorId"`
	MessageID string          `json:"messageId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DataTransferResponse verdict.
type DataTransferResponse struct {
	Status string `json:"status"`
}
