// Package handlers implements the station initiated OCPP actions.
package handlers

import (
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/directory"
	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/service"
)

// Dependencies are shared by the action handlers.
type Dependencies struct {
	Directory  directory.Directory
	State      *service.StationState
	Tracker    *service.TransactionTracker
	Aggregator *service.MeterAggregator
	Events     events.Publisher
	Logger     *zap.Logger
}

// Register installs the handler of every supported action on router.
func Register(router *ocpp.Router, deps Dependencies) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	router.Register(protocol.ActionBootNotification, NewBootNotificationHandler(deps.Directory, deps.State, deps.Events, deps.Logger))
	router.Register(protocol.ActionHeartbeat, NewHeartbeatHandler(deps.Directory, deps.Logger))
	router.Register(protocol.ActionStatusNotification, NewStatusNotificationHandler(deps.Directory, deps.State, deps.Logger))
	router.Register(protocol.ActionStartTransaction, NewStartTransactionHandler(deps.Tracker, deps.Logger))
	router.Register(protocol.ActionStopTransaction, NewStopTransactionHandler(deps.Tracker, deps.Logger))
	router.Register(protocol.ActionMeterValues, NewMeterValuesHandler(deps.Aggregator, deps.Logger))
	router.Register(protocol.ActionAuthorize, NewAuthorizeHandler(deps.Logger))
	router.Register(protocol.ActionDataTransfer, NewDataTransferHandler(deps.Logger))
}
