// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// ErrUnavailable marks transport failures and API errors.
var ErrUnavailable = errors.New("last.fm unavailable")

// Client is a Last.fm API client.
// Similar-track and tag lookups are cached for the lifetime of the client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	cacheMu sync.RWMutex
	similar map[string][]TrackRef
	tags    map[string][]Tag
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

// TrackRef identifies a track by name and artist.
type TrackRef struct {
	Name   string
	Artist string
	Match  float64 // Similarity score in [0,1] (similar tracks only)
}

// Query returns a catalog search query for the track.
func (r TrackRef) Query() string {
	return fmt.Sprintf("track:%s artist:%s", r.Name, r.Artist)
}

// Tag represents a Last.fm tag.
type Tag struct {
	Name  string
	Count int
}

type trackList struct {
	Track []struct {
		Name   string          `json:"name"`
		Match  json.RawMessage `json:"match"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"track"`
}

type similarResponse struct {
	SimilarTracks trackList `json:"similartracks"`
}

type topTracksResponse struct {
	Tracks trackList `json:"tracks"`
}

type topTagsResponse struct {
	TopTags struct {
		Tag []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"tag"`
	} `json:"toptags"`
}

type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		similar:    make(map[string][]TrackRef),
		tags:       make(map[string][]Tag),
	}, nil
}

// GetSimilarTracks retrieves tracks similar to the given track.
// Reference: https://www.last.fm/api/show/track.getSimilar
func (c *Client) GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]TrackRef, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}
	limit = clampLimit(limit, 20)

	key := fmt.Sprintf("%s\x00%s\x00%d", strings.ToLower(artistName), strings.ToLower(trackName), limit)
	c.cacheMu.RLock()
	cached, ok := c.similar[key]
	c.cacheMu.RUnlock()
	if ok {
		zlog.Debug().Msgf("lastfm: similar cache hit: artist=%s track=%s", artistName, trackName)
		return cached, nil
	}

	var resp similarResponse
	err := c.call(ctx, url.Values{
		"method":      {"track.getSimilar"},
		"artist":      {artistName},
		"track":       {trackName},
		"limit":       {strconv.Itoa(limit)},
		"autocorrect": {"1"},
	}, &resp)
	if err != nil {
		return nil, err
	}

	refs := resp.SimilarTracks.refs()
	c.cacheMu.Lock()
	c.similar[key] = refs
	c.cacheMu.Unlock()

	return refs, nil
}

// GetTopTags retrieves the most-applied tags for a track.
// Reference: https://www.last.fm/api/show/track.getTopTags
func (c *Client) GetTopTags(ctx context.Context, trackName, artistName string, limit int) ([]Tag, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}
	limit = clampLimit(limit, 10)

	key := strings.ToLower(artistName) + "\x00" + strings.ToLower(trackName)
	c.cacheMu.RLock()
	cached, ok := c.tags[key]
	c.cacheMu.RUnlock()
	if !ok {
		var resp topTagsResponse
		err := c.call(ctx, url.Values{
			"method":      {"track.getTopTags"},
			"artist":      {artistName},
			"track":       {trackName},
			"autocorrect": {"1"},
		}, &resp)
		if err != nil {
			return nil, err
		}

		cached = make([]Tag, 0, len(resp.TopTags.Tag))
		for _, t := range resp.TopTags.Tag {
			cached = append(cached, Tag{Name: t.Name, Count: t.Count})
		}
		c.cacheMu.Lock()
		c.tags[key] = cached
		c.cacheMu.Unlock()
	}

	if len(cached) > limit {
		return cached[:limit], nil
	}
	return cached, nil
}

// GetTagTopTracks retrieves the top tracks for a tag.
// Reference: https://www.last.fm/api/show/tag.getTopTracks
func (c *Client) GetTagTopTracks(ctx context.Context, tagName string, limit int) ([]TrackRef, error) {
	if tagName == "" {
		return nil, errors.New("tag name is required")
	}

	var resp topTracksResponse
	err := c.call(ctx, url.Values{
		"method": {"tag.getTopTracks"},
		"tag":    {tagName},
		"limit":  {strconv.Itoa(clampLimit(limit, 20))},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Tracks.refs(), nil
}

// GetChartTopTracks retrieves the global chart.
// Reference: https://www.last.fm/api/show/chart.getTopTracks
func (c *Client) GetChartTopTracks(ctx context.Context, limit int) ([]TrackRef, error) {
	var resp topTracksResponse
	err := c.call(ctx, url.Values{
		"method": {"chart.getTopTracks"},
		"limit":  {strconv.Itoa(clampLimit(limit, 20))},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Tracks.refs(), nil
}

// call performs a GET against the API and decodes the JSON body into out.
func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	method := params.Get("method")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to send %s request", method), ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to read response body"), ErrUnavailable)
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != 0 {
		return errors.Mark(errors.Newf("last.fm API error %d: %s", apiErr.Error, apiErr.Message), ErrUnavailable)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Mark(errors.Newf("last.fm %s: HTTP %d", method, resp.StatusCode), ErrUnavailable)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "failed to parse %s response", method)
	}
	return nil
}

func (l trackList) refs() []TrackRef {
	refs := make([]TrackRef, 0, len(l.Track))
	for _, t := range l.Track {
		refs = append(refs, TrackRef{
			Name:   t.Name,
			Artist: t.Artist.Name,
			Match:  parseMatch(t.Match),
		})
	}
	return refs
}

// parseMatch accepts the score as a JSON number or string.
func parseMatch(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, _ = strconv.ParseFloat(s, 64)
	}
	return f
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 100 {
		return 100
	}
	return limit
}
