package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/app/notification"
	"github.com/osa030/djvote/internal/app/session"
)

// ListenerService implements the ListenerService RPC.
type ListenerService struct {
	session *session.Manager
}

// NewListenerService creates a new ListenerService.
func NewListenerService(session *session.Manager) *ListenerService {
	return &ListenerService{session: session}
}

// NewListenerServiceHandler builds the HTTP handler serving svc and returns
// the path prefix to mount it on.
func NewListenerServiceHandler(svc *ListenerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ListenerServiceJoinProcedure,
		connect.NewUnaryHandler(ListenerServiceJoinProcedure, svc.Join, opts...))
	mux.Handle(ListenerServiceCastVoteProcedure,
		connect.NewUnaryHandler(ListenerServiceCastVoteProcedure, svc.CastVote, opts...))
	mux.Handle(ListenerServiceGetRoundProcedure,
		connect.NewUnaryHandler(ListenerServiceGetRoundProcedure, svc.GetRound, opts...))
	mux.Handle(ListenerServiceGetVotesProcedure,
		connect.NewUnaryHandler(ListenerServiceGetVotesProcedure, svc.GetVotes, opts...))
	mux.Handle(ListenerServiceSubscribeNotificationsProcedure,
		connect.NewServerStreamHandler(ListenerServiceSubscribeNotificationsProcedure, svc.SubscribeNotifications, opts...))

	return "/" + ListenerServiceName + "/", mux
}

// Join handles listener join requests.
func (s *ListenerService) Join(
	ctx context.Context,
	req *connect.Request[JoinRequest],
) (*connect.Response[JoinResponse], error) {
	listenerID, err := s.session.Join(req.Msg.DisplayName, req.Msg.ExternalUserID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&JoinResponse{
		ListenerID: listenerID,
	}), nil
}

// CastVote votes for a candidate in the current round. A vote that does not
// count is a successful response with Accepted false and a reason.
func (s *ListenerService) CastVote(
	ctx context.Context,
	req *connect.Request[CastVoteRequest],
) (*connect.Response[CastVoteResponse], error) {
	if req.Msg.ListenerID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("listener_id is required"))
	}

	result, err := s.session.Vote(ctx, req.Msg.ListenerID, req.Msg.Index)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&CastVoteResponse{
		Accepted: result.Accepted,
		Reason:   string(result.Reason),
		RoundID:  result.RoundID,
		TrackID:  result.Track.ID,
		Resolved: result.Resolved,
	}), nil
}

// GetRound returns the current round.
func (s *ListenerService) GetRound(
	ctx context.Context,
	req *connect.Request[GetRoundRequest],
) (*connect.Response[GetRoundResponse], error) {
	status := s.session.Status()

	return connect.NewResponse(&GetRoundResponse{
		Round:    status.Round,
		Progress: status.Progress,
	}), nil
}

// GetVotes returns the persisted tally for a round, defaulting to the
// current one.
func (s *ListenerService) GetVotes(
	ctx context.Context,
	req *connect.Request[GetVotesRequest],
) (*connect.Response[GetVotesResponse], error) {
	roundID := req.Msg.RoundID
	if roundID == "" {
		if r := s.session.Status().Round; r != nil {
			roundID = r.ID
		}
	}
	if roundID == "" {
		return nil, toConnectError(session.ErrNoRound)
	}

	counts, err := s.session.Votes(ctx, roundID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&GetVotesResponse{
		RoundID: roundID,
		Counts:  counts,
	}), nil
}

// SubscribeNotifications handles notification subscription requests.
func (s *ListenerService) SubscribeNotifications(
	ctx context.Context,
	req *connect.Request[SubscribeNotificationsRequest],
	stream *connect.ServerStream[notification.Notification],
) error {
	notifManager := s.session.Notifications()
	adapter := &notificationStreamAdapter{stream: stream}

	initial := notification.New(notification.TypeInitialState, s.session.Status())
	initial.SequenceNo = notifManager.SequenceNo()
	if err := adapter.Send(initial); err != nil {
		return err
	}

	subscriptionID := notifManager.Subscribe(adapter)
	zlog.Debug().Msgf("notification stream opened: id=%s", subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}

	notifManager.Unsubscribe(subscriptionID)
	zlog.Debug().Msgf("notification stream closed: id=%s", subscriptionID)

	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized because an abandoned slow send may still be running
// when the next broadcast arrives.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notification]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(n)
}
