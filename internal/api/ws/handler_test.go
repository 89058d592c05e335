package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/djvote/internal/app/candidate"
	"github.com/osa030/djvote/internal/app/device"
	"github.com/osa030/djvote/internal/app/notification"
	"github.com/osa030/djvote/internal/app/session"
	"github.com/osa030/djvote/internal/domain/track"
	"github.com/osa030/djvote/internal/infra/config"
)

type stubDevice struct {
	events chan device.Event
}

func (d *stubDevice) Activate(ctx context.Context) (device.Handle, error) {
	return device.Handle{DeviceID: "dev1", Name: "djvote"}, nil
}

func (d *stubDevice) Load(ctx context.Context, uri string) error { return nil }
func (d *stubDevice) TogglePlayPause(ctx context.Context) (bool, error) { return false, nil }
func (d *stubDevice) SetVolume(ctx context.Context, level int) error { return nil }
func (d *stubDevice) Report(raw device.RawState) {}
func (d *stubDevice) Events() <-chan device.Event { return d.events }
func (d *stubDevice) Run(ctx context.Context) { <-ctx.Done() }

type stubCatalog struct{}

func (stubCatalog) GetTrack(ctx context.Context, id string) (*track.Track, error) {
	t := mkTrack(id)
	return &t, nil
}

func (stubCatalog) SearchTracks(ctx context.Context, query string, limit int) ([]track.Track, error) {
	return []track.Track{mkTrack("seed")}, nil
}

type stubSelector struct{}

func (stubSelector) Select(ctx context.Context, seed track.Track, recent []track.Track) (candidate.Selection, error) {
	return candidate.Selection{SeedID: seed.ID, Tracks: []track.Track{mkTrack("c0"), mkTrack("c1")}}, nil
}

func mkTrack(id string) track.Track {
	return track.New(id, "Song "+id, []string{"Artist"}, "Album", 180*time.Second, "spotify:track:"+id)
}

func newTestServer(t *testing.T, origins []string) (*session.Manager, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		Session:  config.SessionConfig{Title: "test", TickMs: 20},
		Round:    config.RoundConfig{WindowSec: 15, EndGuardSec: 10, CandidateCount: 4, Policy: "first_vote"},
		Progress: config.ProgressConfig{ResyncThresholdMs: 2000, EndEpsilonMs: 1000, RestartGuardMs: 5000},
	}
	m, err := session.NewManager(cfg, session.Deps{
		Catalog:  stubCatalog{},
		Device:   &stubDevice{events: make(chan device.Event)},
		Selector: stubSelector{},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(m, origins))
	t.Cleanup(srv.Close)
	t.Cleanup(m.Close)
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until one has the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == want {
			return msg
		}
	}
}

func TestHandler_InitialStateAndPing(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv, "")

	initial := readUntil(t, conn, string(notification.TypeInitialState))
	payload, ok := initial["payload"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload, "session")

	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgTypePing}))
	readUntil(t, conn, MsgTypePong)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := readUntil(t, conn, MsgTypeError)
	assert.Equal(t, "invalid message format", msg["message"])
}

func TestHandler_JoinAndVote(t *testing.T) {
	m, srv := newTestServer(t, nil)
	conn := dial(t, srv, "")

	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgTypeVote, Index: 0}))
	msg := readUntil(t, conn, MsgTypeError)
	assert.Equal(t, "voter_id is required", msg["message"])

	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgTypeJoin, DisplayName: "Alice"}))
	joined := readUntil(t, conn, MsgTypeJoined)
	voterID, _ := joined["voter_id"].(string)
	require.NotEmpty(t, voterID)

	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgTypeVote, Index: 0}))
	msg = readUntil(t, conn, MsgTypeError)
	assert.Equal(t, session.ErrSessionNotRunning.Error(), msg["message"])

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	_, err := m.Seed(ctx, "anything")
	require.NoError(t, err)
	readUntil(t, conn, string(notification.TypeRoundStarted))

	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgTypeVote, VoterID: voterID, Index: 1}))
	result := readUntil(t, conn, MsgTypeVoteResult)
	assert.Equal(t, voterID, result["voter_id"])
	assert.Equal(t, "not_open", result["reason"])
}

func TestHandler_VoterFromQuery(t *testing.T) {
	m, srv := newTestServer(t, nil)
	id, err := m.Join("Bob", "")
	require.NoError(t, err)

	conn := dial(t, srv, "?voter_id="+id)
	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgTypeVote, Index: 0}))
	msg := readUntil(t, conn, MsgTypeError)
	assert.Equal(t, id, msg["voter_id"])
}

func TestHandler_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
	}{
		{name: "listed origin", origins: []string{"http://dj.example"}, origin: "http://dj.example", allowed: true},
		{name: "unlisted origin", origins: []string{"http://dj.example"}, origin: "http://evil.example", allowed: false},
		{name: "wildcard", origins: []string{"*"}, origin: "http://evil.example", allowed: true},
		{name: "no origin header", origins: []string{"http://dj.example"}, origin: "", allowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newTestServer(t, tt.origins)
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}

			conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
			if tt.allowed {
				require.NoError(t, err)
				_ = conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestHandler_ClosesWhenSessionEnds(t *testing.T) {
	m, srv := newTestServer(t, nil)
	conn := dial(t, srv, "")
	readUntil(t, conn, string(notification.TypeInitialState))

	require.Eventually(t, func() bool {
		return m.Notifications().SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	m.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.False(t, websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure))
			return
		}
	}
}
