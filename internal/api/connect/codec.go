// Package connect provides Connect RPC service implementations.
package connect

import (
	"encoding/json"

	"connectrpc.com/connect"
)

const (
	// ListenerServiceName is the fully-qualified name of the listener service.
	ListenerServiceName = "djvote.v1.ListenerService"
	// AdminServiceName is the fully-qualified name of the admin service.
	AdminServiceName = "djvote.v1.AdminService"
)

// Listener procedures.
const (
	ListenerServiceJoinProcedure                   = "/" + ListenerServiceName + "/Join"
	ListenerServiceCastVoteProcedure               = "/" + ListenerServiceName + "/CastVote"
	ListenerServiceGetRoundProcedure               = "/" + ListenerServiceName + "/GetRound"
	ListenerServiceGetVotesProcedure               = "/" + ListenerServiceName + "/GetVotes"
	ListenerServiceSubscribeNotificationsProcedure = "/" + ListenerServiceName + "/SubscribeNotifications"
)

// Admin procedures.
const (
	AdminServiceGetStatusProcedure         = "/" + AdminServiceName + "/GetStatus"
	AdminServiceSearchProcedure            = "/" + AdminServiceName + "/Search"
	AdminServiceStartRoundProcedure        = "/" + AdminServiceName + "/StartRound"
	AdminServiceTogglePlayPauseProcedure   = "/" + AdminServiceName + "/TogglePlayPause"
	AdminServiceSetVolumeProcedure         = "/" + AdminServiceName + "/SetVolume"
	AdminServiceSkipProcedure              = "/" + AdminServiceName + "/Skip"
	AdminServiceReportPlayerStateProcedure = "/" + AdminServiceName + "/ReportPlayerState"
	AdminServiceKickProcedure              = "/" + AdminServiceName + "/Kick"
	AdminServiceListListenersProcedure     = "/" + AdminServiceName + "/ListListeners"
	AdminServiceStopSessionProcedure       = "/" + AdminServiceName + "/StopSession"
)

// jsonCodec encodes messages as plain JSON. Registered under connect's "json"
// name, it replaces the protobuf JSON codec so messages can be ordinary structs.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// WithJSON configures a handler or client to exchange JSON messages.
func WithJSON() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
