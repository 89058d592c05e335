package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/djvote/internal/app/candidate"
	"github.com/osa030/djvote/internal/app/device"
	"github.com/osa030/djvote/internal/app/notification"
	"github.com/osa030/djvote/internal/app/session"
	"github.com/osa030/djvote/internal/app/session/registry"
	"github.com/osa030/djvote/internal/domain/track"
	"github.com/osa030/djvote/internal/infra/config"
	"github.com/osa030/djvote/internal/infra/spotify"
	"github.com/osa030/djvote/internal/infra/tally/memory"
)

const testToken = "secret"

type stubDevice struct {
	mu      sync.Mutex
	playing bool
	volume  int
	reports []device.RawState
	events  chan device.Event
}

func (d *stubDevice) Activate(ctx context.Context) (device.Handle, error) {
	return device.Handle{DeviceID: "dev1", Name: "djvote"}, nil
}

func (d *stubDevice) Load(ctx context.Context, uri string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = true
	return nil
}

func (d *stubDevice) TogglePlayPause(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = !d.playing
	return d.playing, nil
}

func (d *stubDevice) SetVolume(ctx context.Context, level int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = level
	return nil
}

func (d *stubDevice) Report(raw device.RawState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, raw)
}

func (d *stubDevice) Events() <-chan device.Event { return d.events }

func (d *stubDevice) Run(ctx context.Context) { <-ctx.Done() }

type stubCatalog struct {
	tracks map[string]track.Track
}

func (c *stubCatalog) GetTrack(ctx context.Context, id string) (*track.Track, error) {
	t, ok := c.tracks[id]
	if !ok {
		return nil, errors.Wrap(session.ErrTrackNotFound, id)
	}
	return &t, nil
}

func (c *stubCatalog) SearchTracks(ctx context.Context, query string, limit int) ([]track.Track, error) {
	var out []track.Track
	for _, t := range c.tracks {
		if t.Name == query {
			out = append(out, t)
		}
	}
	return out, nil
}

type stubSelector struct{}

func (stubSelector) Select(ctx context.Context, seed track.Track, recent []track.Track) (candidate.Selection, error) {
	tracks := []track.Track{mkTrack("c0"), mkTrack("c1"), mkTrack("c2"), mkTrack("c3")}
	return candidate.Selection{SeedID: seed.ID, Tracks: tracks}, nil
}

func mkTrack(id string) track.Track {
	return track.New(id, "Song "+id, []string{"Artist"}, "Album", 180*time.Second, "spotify:track:"+id)
}

type testEnv struct {
	session  *session.Manager
	device   *stubDevice
	listener *ListenerClient
	admin    *AdminClient
	url      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Session:  config.SessionConfig{Title: "test", TickMs: 20},
		Admin:    config.AdminConfig{Token: testToken},
		Round:    config.RoundConfig{WindowSec: 15, EndGuardSec: 10, CandidateCount: 4, Policy: "first_vote"},
		Progress: config.ProgressConfig{ResyncThresholdMs: 2000, EndEpsilonMs: 1000, RestartGuardMs: 5000},
		Tally:    config.TallyConfig{Workers: 1, QueueSize: 16},
	}
	dev := &stubDevice{events: make(chan device.Event, 4)}
	m, err := session.NewManager(cfg, session.Deps{
		Catalog:  &stubCatalog{tracks: map[string]track.Track{"seed": mkTrack("seed")}},
		Device:   dev,
		Selector: stubSelector{},
		Store:    memory.New(),
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle(NewListenerServiceHandler(NewListenerService(m)))
	mux.Handle(NewAdminServiceHandler(NewAdminService(m),
		connect.WithInterceptors(NewAdminAuthInterceptor(cfg))))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(m.Close)

	return &testEnv{
		session:  m,
		device:   dev,
		listener: NewListenerClient(srv.Client(), srv.URL),
		admin:    NewAdminClient(srv.Client(), srv.URL, testToken),
		url:      srv.URL,
	}
}

func TestAdminAuthInterceptor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
		code  connect.Code
	}{
		{name: "missing token", token: "", code: connect.CodeUnauthenticated},
		{name: "wrong token", token: "nope", code: connect.CodeUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewAdminClient(http.DefaultClient, env.url, tt.token)
			_, err := client.GetStatus(ctx)
			require.Error(t, err)
			assert.Equal(t, tt.code, connect.CodeOf(err))
		})
	}

	t.Run("valid token", func(t *testing.T) {
		resp, err := env.admin.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "idle", resp.Status.Session.Phase)
	})
}

func TestListenerService_VoteFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	joined, err := env.listener.Join(ctx, &JoinRequest{DisplayName: "Alice"})
	require.NoError(t, err)
	require.NotEmpty(t, joined.ListenerID)

	_, err = env.listener.CastVote(ctx, &CastVoteRequest{ListenerID: joined.ListenerID})
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = env.admin.StartRound(ctx, "Song seed")
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	require.NoError(t, env.session.Start(ctx))

	started, err := env.admin.StartRound(ctx, "Song seed")
	require.NoError(t, err)
	assert.Equal(t, "seed", started.Track.ID)

	assert.Eventually(t, func() bool {
		r, err := env.listener.GetRound(ctx)
		return err == nil && r.Round != nil && len(r.Round.Candidates) == 4
	}, 2*time.Second, 20*time.Millisecond)

	voted, err := env.listener.CastVote(ctx, &CastVoteRequest{ListenerID: joined.ListenerID, Index: 2})
	require.NoError(t, err)
	assert.False(t, voted.Accepted)
	assert.Equal(t, "not_open", voted.Reason)

	_, err = env.listener.CastVote(ctx, &CastVoteRequest{ListenerID: "stranger", Index: 0})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = env.listener.CastVote(ctx, &CastVoteRequest{})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	votes, err := env.listener.GetVotes(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, votes.RoundID)
	assert.Empty(t, votes.Counts)
}

func TestAdminService_Commands(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.session.Start(ctx))

	_, err := env.admin.Skip(ctx)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = env.admin.StartRound(ctx, "")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = env.admin.StartRound(ctx, "no such song")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	found, err := env.admin.Search(ctx, "Song seed", 5)
	require.NoError(t, err)
	require.Len(t, found.Tracks, 1)
	assert.Equal(t, "seed", found.Tracks[0].ID)

	_, err = env.admin.StartRound(ctx, found.Tracks[0].URI)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return env.session.Status().Progress.State == "playing"
	}, 2*time.Second, 20*time.Millisecond)

	toggled, err := env.admin.TogglePlayPause(ctx)
	require.NoError(t, err)
	assert.False(t, toggled.Playing)

	_, err = env.admin.SetVolume(ctx, 101)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	_, err = env.admin.SetVolume(ctx, 40)
	require.NoError(t, err)

	voter, err := env.listener.Join(ctx, &JoinRequest{DisplayName: "Bob"})
	require.NoError(t, err)
	_, err = env.admin.Kick(ctx, voter.ListenerID)
	require.NoError(t, err)
	_, err = env.listener.CastVote(ctx, &CastVoteRequest{ListenerID: voter.ListenerID})
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	listeners, err := env.admin.ListListeners(ctx)
	require.NoError(t, err)
	require.Len(t, listeners.Listeners, 1)
	assert.True(t, listeners.Listeners[0].IsKicked)

	skipped, err := env.admin.Skip(ctx)
	require.NoError(t, err)
	assert.True(t, skipped.Success)

	stopped, err := env.admin.StopSession(ctx)
	require.NoError(t, err)
	assert.True(t, stopped.Success)

	env.device.mu.Lock()
	assert.Equal(t, 40, env.device.volume)
	env.device.mu.Unlock()
}

func TestListenerService_SubscribeNotifications(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.session.Start(ctx))

	stream, err := env.listener.SubscribeNotifications(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive(), "stream error: %v", stream.Err())
	assert.Equal(t, notification.TypeInitialState, stream.Msg().Type)

	assert.Eventually(t, func() bool {
		return env.session.Notifications().SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = env.admin.StartRound(ctx, "Song seed")
	require.NoError(t, err)

	for stream.Receive() {
		n := stream.Msg()
		if n.Type != notification.TypeRoundStarted {
			continue
		}
		payload, ok := n.Payload.(map[string]any)
		require.True(t, ok)
		seed, ok := payload["seed"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "seed", seed["id"])
		assert.Positive(t, n.SequenceNo)
		return
	}
	t.Fatalf("stream ended before round_started: %v", stream.Err())
}

func TestAdminService_ReportPlayerState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.admin.ReportPlayerState(ctx, &ReportPlayerStateRequest{
		TrackURI:   "spotify:track:seed",
		PositionMs: 1500,
		Paused:     true,
	})
	require.NoError(t, err)

	env.device.mu.Lock()
	defer env.device.mu.Unlock()
	require.Len(t, env.device.reports, 1)
	assert.Equal(t, 1500*time.Millisecond, env.device.reports[0].Position)
	assert.True(t, env.device.reports[0].Paused)
}

func TestToConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code connect.Code
	}{
		{name: "not running", err: session.ErrSessionNotRunning, code: connect.CodeFailedPrecondition},
		{name: "no round", err: errors.Wrap(session.ErrNoRound, "skip"), code: connect.CodeFailedPrecondition},
		{name: "unknown listener", err: registry.ErrInvalidListener, code: connect.CodeNotFound},
		{name: "kicked", err: registry.ErrListenerKicked, code: connect.CodePermissionDenied},
		{name: "track missing", err: session.ErrTrackNotFound, code: connect.CodeNotFound},
		{name: "catalog down", err: spotify.ErrCatalogUnavailable, code: connect.CodeUnavailable},
		{name: "playback command", err: &device.CommandError{Op: "volume", Err: errors.New("boom")}, code: connect.CodeUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, code: connect.CodeDeadlineExceeded},
		{name: "other", err: errors.New("boom"), code: connect.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, connect.CodeOf(toConnectError(tt.err)))
		})
	}
	assert.NoError(t, toConnectError(nil))
}
