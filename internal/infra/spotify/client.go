// Package spotify provides a client for the Spotify catalog and player APIs.
package spotify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/djvote/internal/domain/track"
)

// Scopes are the OAuth scopes needed for catalog access and playback control.
var Scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopeStreaming,
	spotifyauth.ScopeUserTopRead,
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopePlaylistReadPrivate,
}

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
	MaxRetries   int
	RetryDelay   time.Duration
}

// New creates a new Spotify client authenticated by a refresh token.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(Scopes...),
	)

	// The oauth2 transport refreshes the access token on demand
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}
	httpClient := auth.Client(ctx, token)

	return newClient(spotify.New(httpClient), cfg), nil
}

// NewWithHTTPClient creates a client over an existing HTTP client and API base URL.
// baseURL must end with a slash; an empty baseURL uses the public API.
func NewWithHTTPClient(httpClient *http.Client, baseURL string, cfg Config) *Client {
	var opts []spotify.ClientOption
	if baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(baseURL))
	}
	return newClient(spotify.New(httpClient, opts...), cfg)
}

func newClient(client *spotify.Client, cfg Config) *Client {
	market := cfg.Market
	if market == "" {
		market = "JP"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		client:     client,
		market:     market,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Market returns the configured market.
func (c *Client) Market() string {
	return c.market
}

// retry retries a catalog operation with linear backoff.
// Only rate limit and server errors are retried.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			zlog.Warn().Msgf("spotify: retrying: attempt=%d/%d error=%v", i+1, c.maxRetries, err)
			if err := sleepWithContext(ctx, c.retryDelay*time.Duration(i+1)); err != nil {
				return err
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "request canceled")
	case <-timer.C:
		return nil
	}
}

// convertTrack converts a Spotify FullTrack to a domain Track.
func (c *Client) convertTrack(t *spotify.FullTrack) track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	tr := track.New(string(t.ID), t.Name, artists, t.Album.Name,
		time.Duration(t.Duration)*time.Millisecond, string(t.URI))

	if len(t.Album.Images) > 0 {
		tr.AlbumArtURL = t.Album.Images[0].URL
	}
	tr.PreviewURL = t.PreviewURL
	tr.Popularity = float64(t.Popularity) / 100

	markets := make([]string, len(t.AvailableMarkets))
	for i, m := range t.AvailableMarkets {
		markets[i] = string(m)
	}
	// Requests pinned to a market omit the list; assume availability there
	if len(markets) == 0 && c.market != "" {
		markets = append(markets, c.market)
	}
	tr.Markets = markets
	tr.IsPlayable = t.IsPlayable

	return tr
}

// convertSimpleTrack converts a Spotify SimpleTrack to a domain Track.
func (c *Client) convertSimpleTrack(t *spotify.SimpleTrack) track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	tr := track.New(string(t.ID), t.Name, artists, "",
		time.Duration(t.Duration)*time.Millisecond, string(t.URI))
	tr.PreviewURL = t.PreviewURL
	tr.Markets = []string{c.market}
	return tr
}

// ExtractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func ExtractPlaylistID(input string) string {
	return extractID(input, "playlist")
}

// ExtractTrackID extracts the track ID from a Spotify track URL or URI.
func ExtractTrackID(input string) string {
	return extractID(input, "track")
}

// TrackURI returns the playback URI for a track ID.
func TrackURI(id string) string {
	return "spotify:track:" + id
}

// extractID handles spotify:<kind>:ID, https://open.spotify.com/<kind>/ID and
// https://open.spotify.com/intl-XX/<kind>/ID; anything else is taken as an ID.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)

	prefix := "spotify:" + kind + ":"
	if strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	segment := "/" + kind + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, segment) {
		parts := strings.Split(input, segment)
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}
