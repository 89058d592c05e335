package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/djvote/internal/app/notification"
)

// ListenerClient calls the ListenerService.
type ListenerClient struct {
	join      *connect.Client[JoinRequest, JoinResponse]
	castVote  *connect.Client[CastVoteRequest, CastVoteResponse]
	getRound  *connect.Client[GetRoundRequest, GetRoundResponse]
	getVotes  *connect.Client[GetVotesRequest, GetVotesResponse]
	subscribe *connect.Client[SubscribeNotificationsRequest, notification.Notification]
}

// NewListenerClient creates a ListenerService client for baseURL.
func NewListenerClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ListenerClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSON()}, opts...)

	return &ListenerClient{
		join:      connect.NewClient[JoinRequest, JoinResponse](httpClient, baseURL+ListenerServiceJoinProcedure, opts...),
		castVote:  connect.NewClient[CastVoteRequest, CastVoteResponse](httpClient, baseURL+ListenerServiceCastVoteProcedure, opts...),
		getRound:  connect.NewClient[GetRoundRequest, GetRoundResponse](httpClient, baseURL+ListenerServiceGetRoundProcedure, opts...),
		getVotes:  connect.NewClient[GetVotesRequest, GetVotesResponse](httpClient, baseURL+ListenerServiceGetVotesProcedure, opts...),
		subscribe: connect.NewClient[SubscribeNotificationsRequest, notification.Notification](httpClient, baseURL+ListenerServiceSubscribeNotificationsProcedure, opts...),
	}
}

// Join calls ListenerService.Join.
func (c *ListenerClient) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	return unary(ctx, c.join, req)
}

// CastVote calls ListenerService.CastVote.
func (c *ListenerClient) CastVote(ctx context.Context, req *CastVoteRequest) (*CastVoteResponse, error) {
	return unary(ctx, c.castVote, req)
}

// GetRound calls ListenerService.GetRound.
func (c *ListenerClient) GetRound(ctx context.Context) (*GetRoundResponse, error) {
	return unary(ctx, c.getRound, &GetRoundRequest{})
}

// GetVotes calls ListenerService.GetVotes.
func (c *ListenerClient) GetVotes(ctx context.Context, roundID string) (*GetVotesResponse, error) {
	return unary(ctx, c.getVotes, &GetVotesRequest{RoundID: roundID})
}

// SubscribeNotifications opens the notification stream.
func (c *ListenerClient) SubscribeNotifications(ctx context.Context) (*connect.ServerStreamForClient[notification.Notification], error) {
	return c.subscribe.CallServerStream(ctx, connect.NewRequest(&SubscribeNotificationsRequest{}))
}

// AdminClient calls the AdminService.
type AdminClient struct {
	getStatus       *connect.Client[GetStatusRequest, GetStatusResponse]
	search          *connect.Client[SearchRequest, SearchResponse]
	startRound      *connect.Client[StartRoundRequest, StartRoundResponse]
	togglePlayPause *connect.Client[TogglePlayPauseRequest, TogglePlayPauseResponse]
	setVolume       *connect.Client[SetVolumeRequest, CommandResponse]
	skip            *connect.Client[SkipRequest, CommandResponse]
	reportState     *connect.Client[ReportPlayerStateRequest, CommandResponse]
	kick            *connect.Client[KickRequest, CommandResponse]
	listListeners   *connect.Client[ListListenersRequest, ListListenersResponse]
	stopSession     *connect.Client[StopSessionRequest, CommandResponse]
}

// NewAdminClient creates an AdminService client that authenticates with token.
func NewAdminClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *AdminClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		WithJSON(),
		connect.WithInterceptors(NewAdminTokenInterceptor(token)),
	}, opts...)

	return &AdminClient{
		getStatus:       connect.NewClient[GetStatusRequest, GetStatusResponse](httpClient, baseURL+AdminServiceGetStatusProcedure, opts...),
		search:          connect.NewClient[SearchRequest, SearchResponse](httpClient, baseURL+AdminServiceSearchProcedure, opts...),
		startRound:      connect.NewClient[StartRoundRequest, StartRoundResponse](httpClient, baseURL+AdminServiceStartRoundProcedure, opts...),
		togglePlayPause: connect.NewClient[TogglePlayPauseRequest, TogglePlayPauseResponse](httpClient, baseURL+AdminServiceTogglePlayPauseProcedure, opts...),
		setVolume:       connect.NewClient[SetVolumeRequest, CommandResponse](httpClient, baseURL+AdminServiceSetVolumeProcedure, opts...),
		skip:            connect.NewClient[SkipRequest, CommandResponse](httpClient, baseURL+AdminServiceSkipProcedure, opts...),
		reportState:     connect.NewClient[ReportPlayerStateRequest, CommandResponse](httpClient, baseURL+AdminServiceReportPlayerStateProcedure, opts...),
		kick:            connect.NewClient[KickRequest, CommandResponse](httpClient, baseURL+AdminServiceKickProcedure, opts...),
		listListeners:   connect.NewClient[ListListenersRequest, ListListenersResponse](httpClient, baseURL+AdminServiceListListenersProcedure, opts...),
		stopSession:     connect.NewClient[StopSessionRequest, CommandResponse](httpClient, baseURL+AdminServiceStopSessionProcedure, opts...),
	}
}

// GetStatus calls AdminService.GetStatus.
func (c *AdminClient) GetStatus(ctx context.Context) (*GetStatusResponse, error) {
	return unary(ctx, c.getStatus, &GetStatusRequest{})
}

// Search calls AdminService.Search.
func (c *AdminClient) Search(ctx context.Context, query string, limit int) (*SearchResponse, error) {
	return unary(ctx, c.search, &SearchRequest{Query: query, Limit: limit})
}

// StartRound calls AdminService.StartRound.
func (c *AdminClient) StartRound(ctx context.Context, seed string) (*StartRoundResponse, error) {
	return unary(ctx, c.startRound, &StartRoundRequest{Seed: seed})
}

// TogglePlayPause calls AdminService.TogglePlayPause.
func (c *AdminClient) TogglePlayPause(ctx context.Context) (*TogglePlayPauseResponse, error) {
	return unary(ctx, c.togglePlayPause, &TogglePlayPauseRequest{})
}

// SetVolume calls AdminService.SetVolume.
func (c *AdminClient) SetVolume(ctx context.Context, level int) (*CommandResponse, error) {
	return unary(ctx, c.setVolume, &SetVolumeRequest{Level: level})
}

// Skip calls AdminService.Skip.
func (c *AdminClient) Skip(ctx context.Context) (*CommandResponse, error) {
	return unary(ctx, c.skip, &SkipRequest{})
}

// ReportPlayerState calls AdminService.ReportPlayerState.
func (c *AdminClient) ReportPlayerState(ctx context.Context, req *ReportPlayerStateRequest) (*CommandResponse, error) {
	return unary(ctx, c.reportState, req)
}

// Kick calls AdminService.Kick.
func (c *AdminClient) Kick(ctx context.Context, listenerID string) (*CommandResponse, error) {
	return unary(ctx, c.kick, &KickRequest{ListenerID: listenerID})
}

// ListListeners calls AdminService.ListListeners.
func (c *AdminClient) ListListeners(ctx context.Context) (*ListListenersResponse, error) {
	return unary(ctx, c.listListeners, &ListListenersRequest{})
}

// StopSession calls AdminService.StopSession.
func (c *AdminClient) StopSession(ctx context.Context) (*CommandResponse, error) {
	return unary(ctx, c.stopSession, &StopSessionRequest{})
}

func unary[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
