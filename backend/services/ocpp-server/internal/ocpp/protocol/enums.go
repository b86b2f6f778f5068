package protocol

// MessageType values as per OCPP-J.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Action names a station-initiated OCPP operation.
type Action string

// Actions handled by the router.
const (
	ActionBootNotification   Action = "BootNotification"
	ActionHeartbeat          Action = "Heartbeat"
	ActionStatusNotification Action = "StatusNotification"
	ActionStartTransaction   Action = "StartTransaction"
	ActionStopTransaction    Action = "StopTransaction"
	ActionMeterValues        Action = "MeterValues"
	ActionAuthorize          Action = "Authorize"
	ActionDataTransfer       Action = "DataTransfer"
)

// ErrorCodeInternalError is the CallError code sent for every failed Call.
const ErrorCodeInternalError = "InternalError"

// RegistrationAccepted is the BootNotification verdict.
const RegistrationAccepted = "Accepted"

// IdTagInfo / generic status values.
const (
	StatusAccepted = "Accepted"
	StatusInvalid  = "Invalid"
)

// StatusNotification status values (subset).
const (
	ConnectorAvailable   = "Available"
	ConnectorPreparing   = "Preparing"
	ConnectorCharging    = "Charging"
	ConnectorFinishing   = "Finishing"
	ConnectorFaulted     = "Faulted"
	ConnectorUnavailable = "Unavailable"
)

// Measurands read from MeterValues.
const (
	MeasurandEnergyActiveImportRegister = "Energy.Active.Import.Register"
	MeasurandPowerActiveImport          = "Power.Active.Import"
	MeasurandVoltage                    = "Voltage"
	MeasurandCurrentImport              = "Current.Import"
)

// HeartbeatIntervalSeconds is announced to stations in BootNotification responses.
const HeartbeatIntervalSeconds = 300
