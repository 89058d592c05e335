package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/djvote/internal/app/device"
	"github.com/osa030/djvote/internal/app/session"
	"github.com/osa030/djvote/internal/app/session/registry"
	"github.com/osa030/djvote/internal/app/session/state"
	"github.com/osa030/djvote/internal/infra/spotify"
)

// toConnectError maps application errors onto RPC status codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, registry.ErrInvalidListener):
		code = connect.CodeNotFound
	case errors.Is(err, registry.ErrListenerKicked):
		code = connect.CodePermissionDenied
	case errors.Is(err, session.ErrTrackNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, session.ErrSessionNotRunning),
		errors.Is(err, session.ErrNoRound),
		errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, device.ErrNotActivated):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, spotify.ErrCatalogUnavailable),
		errors.Is(err, spotify.ErrAuthExpired),
		errors.Is(err, device.ErrPlaybackCommand):
		code = connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	}
	return connect.NewError(code, err)
}
