package connect

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/djvote/internal/app/device"
	"github.com/osa030/djvote/internal/app/session"
)

// AdminService implements the AdminService RPC.
type AdminService struct {
	session *session.Manager
}

// NewAdminService creates a new AdminService.
func NewAdminService(session *session.Manager) *AdminService {
	return &AdminService{session: session}
}

// NewAdminServiceHandler builds the HTTP handler serving svc and returns the
// path prefix to mount it on. Pass NewAdminAuthInterceptor in opts to guard it.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(AdminServiceGetStatusProcedure,
		connect.NewUnaryHandler(AdminServiceGetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(AdminServiceSearchProcedure,
		connect.NewUnaryHandler(AdminServiceSearchProcedure, svc.Search, opts...))
	mux.Handle(AdminServiceStartRoundProcedure,
		connect.NewUnaryHandler(AdminServiceStartRoundProcedure, svc.StartRound, opts...))
	mux.Handle(AdminServiceTogglePlayPauseProcedure,
		connect.NewUnaryHandler(AdminServiceTogglePlayPauseProcedure, svc.TogglePlayPause, opts...))
	mux.Handle(AdminServiceSetVolumeProcedure,
		connect.NewUnaryHandler(AdminServiceSetVolumeProcedure, svc.SetVolume, opts...))
	mux.Handle(AdminServiceSkipProcedure,
		connect.NewUnaryHandler(AdminServiceSkipProcedure, svc.Skip, opts...))
	mux.Handle(AdminServiceReportPlayerStateProcedure,
		connect.NewUnaryHandler(AdminServiceReportPlayerStateProcedure, svc.ReportPlayerState, opts...))
	mux.Handle(AdminServiceKickProcedure,
		connect.NewUnaryHandler(AdminServiceKickProcedure, svc.Kick, opts...))
	mux.Handle(AdminServiceListListenersProcedure,
		connect.NewUnaryHandler(AdminServiceListListenersProcedure, svc.ListListeners, opts...))
	mux.Handle(AdminServiceStopSessionProcedure,
		connect.NewUnaryHandler(AdminServiceStopSessionProcedure, svc.StopSession, opts...))

	return "/" + AdminServiceName + "/", mux
}

// GetStatus returns the current session status.
func (s *AdminService) GetStatus(
	ctx context.Context,
	req *connect.Request[GetStatusRequest],
) (*connect.Response[GetStatusResponse], error) {
	return connect.NewResponse(&GetStatusResponse{
		Status: s.session.Status(),
	}), nil
}

// Search looks up seed candidates in the catalog.
func (s *AdminService) Search(
	ctx context.Context,
	req *connect.Request[SearchRequest],
) (*connect.Response[SearchResponse], error) {
	if req.Msg.Query == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}

	found, err := s.session.Search(ctx, req.Msg.Query, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(err)
	}

	views := make([]session.TrackView, len(found))
	for i, t := range found {
		views[i] = session.NewTrackView(t)
	}
	return connect.NewResponse(&SearchResponse{Tracks: views}), nil
}

// StartRound seeds a new round, superseding the current one.
func (s *AdminService) StartRound(
	ctx context.Context,
	req *connect.Request[StartRoundRequest],
) (*connect.Response[StartRoundResponse], error) {
	if req.Msg.Seed == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("seed is required"))
	}

	seed, err := s.session.Seed(ctx, req.Msg.Seed)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&StartRoundResponse{
		Track: session.NewTrackView(seed),
	}), nil
}

// TogglePlayPause pauses or resumes playback.
func (s *AdminService) TogglePlayPause(
	ctx context.Context,
	req *connect.Request[TogglePlayPauseRequest],
) (*connect.Response[TogglePlayPauseResponse], error) {
	playing, err := s.session.TogglePlayPause(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&TogglePlayPauseResponse{Playing: playing}), nil
}

// SetVolume sets the device volume.
func (s *AdminService) SetVolume(
	ctx context.Context,
	req *connect.Request[SetVolumeRequest],
) (*connect.Response[CommandResponse], error) {
	if req.Msg.Level < 0 || req.Msg.Level > 100 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.Newf("volume out of range: %d", req.Msg.Level))
	}

	if err := s.session.SetVolume(ctx, req.Msg.Level); err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&CommandResponse{
		Success: true,
		Message: "Volume set",
	}), nil
}

// Skip ends the current track.
func (s *AdminService) Skip(
	ctx context.Context,
	req *connect.Request[SkipRequest],
) (*connect.Response[CommandResponse], error) {
	if err := s.session.Skip(ctx); err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&CommandResponse{
		Success: true,
		Message: "Track skipped",
	}), nil
}

// ReportPlayerState accepts a state push from a browser-hosted device.
func (s *AdminService) ReportPlayerState(
	ctx context.Context,
	req *connect.Request[ReportPlayerStateRequest],
) (*connect.Response[CommandResponse], error) {
	s.session.ReportPlayerState(device.RawState{
		DeviceID:     req.Msg.DeviceID,
		TrackURI:     req.Msg.TrackURI,
		Position:     time.Duration(req.Msg.PositionMs) * time.Millisecond,
		Paused:       req.Msg.Paused,
		PreviousURIs: req.Msg.PreviousURIs,
	})

	return connect.NewResponse(&CommandResponse{Success: true}), nil
}

// Kick kicks a listener.
func (s *AdminService) Kick(
	ctx context.Context,
	req *connect.Request[KickRequest],
) (*connect.Response[CommandResponse], error) {
	if err := s.session.KickListener(req.Msg.ListenerID); err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&CommandResponse{
		Success: true,
		Message: "Listener kicked",
	}), nil
}

// ListListeners lists all listeners.
func (s *AdminService) ListListeners(
	ctx context.Context,
	req *connect.Request[ListListenersRequest],
) (*connect.Response[ListListenersResponse], error) {
	listeners := s.session.ListListeners()
	infos := make([]ListenerInfo, len(listeners))

	for i, l := range listeners {
		infos[i] = ListenerInfo{
			ListenerID:  l.ID,
			DisplayName: l.DisplayName,
			JoinedAt:    l.JoinedAt.Format(time.RFC3339),
			TotalVotes:  l.TotalVotes,
			IsKicked:    l.IsKicked,
		}
	}

	return connect.NewResponse(&ListListenersResponse{
		Listeners: infos,
	}), nil
}

// StopSession stops the session.
func (s *AdminService) StopSession(
	ctx context.Context,
	req *connect.Request[StopSessionRequest],
) (*connect.Response[CommandResponse], error) {
	if err := s.session.Stop(ctx); err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&CommandResponse{
		Success: true,
		Message: "Session stopped",
	}), nil
}
