package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithHTTPClient(server.Client(), server.URL+"/", Config{
		Market:     "JP",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
}

func TestExtractTrackID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Spotify URI format", input: "spotify:track:4uLU6hMCjMI75M1A2tKUQC", expected: "4uLU6hMCjMI75M1A2tKUQC"},
		{name: "Spotify URL format", input: "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", expected: "4uLU6hMCjMI75M1A2tKUQC"},
		{name: "URL with query params", input: "https://open.spotify.com/track/abc123?si=xyz&utm_source=copy", expected: "abc123"},
		{name: "Localized URL", input: "https://open.spotify.com/intl-ja/track/abc123", expected: "abc123"},
		{name: "Plain ID with spaces", input: "  abc123 ", expected: "abc123"},
		{name: "Empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractTrackID(tt.input))
		})
	}
}

func TestExtractPlaylistID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Spotify URI format", input: "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M", expected: "37i9dQZF1DXcBWIGoYBM5M"},
		{name: "Spotify URL format", input: "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", expected: "37i9dQZF1DXcBWIGoYBM5M"},
		{name: "HTTP URL with trailing slash", input: "http://open.spotify.com/playlist/testID/", expected: "testID"},
		{name: "Plain playlist ID", input: "37i9dQZF1DXcBWIGoYBM5M", expected: "37i9dQZF1DXcBWIGoYBM5M"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractPlaylistID(tt.input))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "api rate limit", err: spotify.Error{Status: http.StatusTooManyRequests}, expected: true},
		{name: "api server error", err: spotify.Error{Status: http.StatusBadGateway}, expected: true},
		{name: "api not found", err: spotify.Error{Status: http.StatusNotFound}, expected: false},
		{name: "wrapped api server error", err: errors.Wrap(spotify.Error{Status: 503}, "ctx"), expected: true},
		{name: "rate limit text", err: errors.New("rate limit exceeded"), expected: true},
		{name: "status in message", err: errors.New("504 Gateway Timeout"), expected: true},
		{name: "generic error", err: errors.New("something went wrong"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		authExpired bool
		unavailable bool
	}{
		{name: "unauthorized", err: spotify.Error{Status: http.StatusUnauthorized}, authExpired: true},
		{name: "server error", err: spotify.Error{Status: http.StatusServiceUnavailable}, unavailable: true},
		{name: "transport error", err: errors.New("dial tcp: connection refused"), unavailable: true},
		{name: "bad request", err: spotify.Error{Status: http.StatusBadRequest}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, "op")
			assert.Equal(t, tt.authExpired, errors.Is(err, ErrAuthExpired))
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrCatalogUnavailable))
		})
	}
}

const searchResponse = `{
  "tracks": {
    "href": "", "limit": 10, "offset": 0, "total": 1,
    "items": [{
      "id": "t1", "name": "Song", "uri": "spotify:track:t1", "duration_ms": 200000,
      "preview_url": "https://p.scdn.co/mp3-preview/t1",
      "artists": [{"name": "Artist A"}, {"name": "Artist B"}],
      "album": {"name": "Album", "images": [{"url": "https://i.scdn.co/image/t1"}]},
      "popularity": 50
    }]
  }
}`

func TestClient_SearchTracks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		assert.Equal(t, "song", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchResponse))
	})

	tracks, err := client.SearchTracks(context.Background(), "song", 10)
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	tr := tracks[0]
	assert.Equal(t, "t1", tr.ID)
	assert.Equal(t, "spotify:track:t1", tr.URI)
	assert.Equal(t, "Artist A, Artist B", tr.Artist)
	assert.Equal(t, "https://i.scdn.co/image/t1", tr.AlbumArtURL)
	assert.Equal(t, 200*time.Second, tr.Duration)
	assert.InDelta(t, 0.5, tr.Popularity, 0.001)
	assert.Equal(t, []string{"JP"}, tr.Markets)
}

func TestClient_SearchTracks_EmptyQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request: %s", r.URL.Path)
	})

	tracks, err := client.SearchTracks(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestClient_GetTrack_DefaultsMissingDuration(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/tracks/t1":
			_, _ = w.Write([]byte(`{"id": "t1", "name": "Song", "uri": "spotify:track:t1", "artists": [{"name": "A"}], "album": {"name": "Album"}}`))
		case "/audio-features":
			_, _ = w.Write([]byte(`{"audio_features": [{"id": "t1", "energy": 0.8, "danceability": 0.6, "valence": 0.3, "tempo": 120}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tr, err := client.GetTrack(context.Background(), "https://open.spotify.com/track/t1")
	require.NoError(t, err)

	assert.Equal(t, 180*time.Second, tr.Duration)
	assert.InDelta(t, 0.8, tr.Energy, 0.001)
	assert.InDelta(t, 120, tr.Tempo, 0.001)
}

func TestClient_GetTrack_FeaturesUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/tracks/t1" {
			_, _ = w.Write([]byte(`{"id": "t1", "name": "Song", "uri": "spotify:track:t1", "duration_ms": 60000, "album": {"name": "Album"}}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"status": 403, "message": "forbidden"}}`))
	})

	tr, err := client.GetTrack(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, tr.Energy)
	assert.Equal(t, 0.5, tr.Valence)
}

func TestClient_GetTrack_AuthExpired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"status": 401, "message": "The access token expired"}}`))
	})

	_, err := client.GetTrack(context.Background(), "t1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthExpired))
}

func TestClient_PlayerState(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/player", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"device": {"id": "dev1", "name": "Browser", "is_active": true},
			"progress_ms": 42000,
			"is_playing": true,
			"item": {"id": "t1", "uri": "spotify:track:t1", "name": "Song"}
		}`))
	})

	state, err := client.PlayerState(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "dev1", state.DeviceID)
	assert.Equal(t, "spotify:track:t1", state.URI)
	assert.Equal(t, 42*time.Second, state.Position)
	assert.True(t, state.Playing)
}

func TestClient_PlayerDevices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/player/devices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"devices": [
			{"id": "dev1", "name": "Kitchen", "type": "Speaker", "is_active": false, "volume_percent": 40},
			{"id": "dev2", "name": "djvote", "type": "Computer", "is_active": true, "volume_percent": 80}
		]}`))
	})

	devices, err := client.PlayerDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, Device{ID: "dev2", Name: "djvote", Type: "Computer", Active: true, Volume: 80}, devices[1])
}
