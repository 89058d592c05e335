package spotify

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/djvote/internal/domain/track"
)

const (
	maxSearchLimit         = 50
	defaultSearchLimit     = 10
	maxRecommendationLimit = 100
)

// GetTrack retrieves a track by ID, URL, or URI, with audio features attached.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	id := ExtractTrackID(trackID)
	if id == "" {
		return nil, errors.New("track id is required")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to get track")
	}

	tr := c.convertTrack(result)
	if features, ok := c.features(ctx, []string{tr.ID})[tr.ID]; ok {
		tr = tr.WithFeatures(features)
	}
	return &tr, nil
}

// SearchTracks searches the catalog for tracks.
// No matches yields an empty slice, not an error.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if query == "" {
		return []track.Track{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var result *spotify.SearchResult
	err := c.retry(ctx, func() error {
		r, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to search")
	}

	tracks := make([]track.Track, 0)
	if result.Tracks == nil {
		return tracks, nil
	}
	for i := range result.Tracks.Tracks {
		tracks = append(tracks, c.convertTrack(&result.Tracks.Tracks[i]))
	}
	return tracks, nil
}

// GetCandidatesForSeed returns recommendations targeted at the seed's audio features.
// The result may hold fewer than limit tracks.
func (c *Client) GetCandidatesForSeed(ctx context.Context, seed track.Track, limit int) ([]track.Track, error) {
	if seed.ID == "" {
		return nil, errors.New("seed track is required")
	}
	if limit <= 0 || limit > maxRecommendationLimit {
		limit = 20
	}

	f := seed.Features()
	if known, ok := c.features(ctx, []string{seed.ID})[seed.ID]; ok {
		f = known
	}

	attrs := spotify.NewTrackAttributes().
		TargetEnergy(f.Energy).
		TargetDanceability(f.Danceability).
		TargetValence(f.Valence)
	if f.Tempo > 0 {
		attrs = attrs.TargetTempo(f.Tempo)
	}

	var recs *spotify.Recommendations
	err := c.retry(ctx, func() error {
		r, err := c.client.GetRecommendations(ctx,
			spotify.Seeds{Tracks: []spotify.ID{spotify.ID(seed.ID)}},
			attrs,
			spotify.Limit(limit),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		recs = r
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to get recommendations")
	}

	ids := make([]spotify.ID, 0, len(recs.Tracks))
	simple := make([]track.Track, 0, len(recs.Tracks))
	for i := range recs.Tracks {
		ids = append(ids, recs.Tracks[i].ID)
		simple = append(simple, c.convertSimpleTrack(&recs.Tracks[i]))
	}

	tracks := c.hydrate(ctx, ids, simple)
	zlog.Debug().Msgf("spotify: recommendations: seed=%s count=%d energy=%.2f danceability=%.2f valence=%.2f",
		seed.ID, len(tracks), f.Energy, f.Danceability, f.Valence)
	return c.withFeatures(ctx, tracks), nil
}

// GetTopTracks returns the account's medium-term top tracks.
func (c *Client) GetTopTracks(ctx context.Context, limit int) ([]track.Track, error) {
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var page *spotify.FullTrackPage
	err := c.retry(ctx, func() error {
		p, err := c.client.CurrentUsersTopTracks(ctx,
			spotify.Limit(limit),
			spotify.Timerange(spotify.MediumTermRange),
		)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to get top tracks")
	}

	tracks := make([]track.Track, 0, len(page.Tracks))
	for i := range page.Tracks {
		tracks = append(tracks, c.convertTrack(&page.Tracks[i]))
	}
	return tracks, nil
}

// GetPlaylistTracksRandom retrieves a random sample of tracks from a playlist.
// It reads the total first, then fetches one random page and samples up to count tracks.
func (c *Client) GetPlaylistTracksRandom(ctx context.Context, playlistURL string, count int) ([]track.Track, error) {
	playlistID := ExtractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var firstPage *spotify.PlaylistItemPage
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(1),
			spotify.Offset(0),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		firstPage = p
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to get playlist info")
	}

	totalTracks := int(firstPage.Total)
	if totalTracks == 0 {
		return []track.Track{}, nil
	}

	limit := 100
	maxOffset := totalTracks - limit
	if maxOffset < 0 {
		maxOffset = 0
	}

	rng := rand.New(rand.NewSource(randomSeed()))
	offset := 0
	if maxOffset > 0 {
		offset = rng.Intn(maxOffset + 1)
	}

	var page *spotify.PlaylistItemPage
	err = c.retry(ctx, func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(limit),
			spotify.Offset(offset),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to get playlist items")
	}

	var tracks []track.Track
	for _, item := range page.Items {
		// Episodes have no Track
		if item.Track.Track != nil && item.Track.Track.ID != "" {
			tracks = append(tracks, c.convertTrack(item.Track.Track))
		}
	}

	if len(tracks) > count {
		rng.Shuffle(len(tracks), func(i, j int) {
			tracks[i], tracks[j] = tracks[j], tracks[i]
		})
		tracks = tracks[:count]
	}

	return tracks, nil
}

// GetAudioFeatures returns audio features keyed by track ID.
// Tracks without features are absent from the map.
func (c *Client) GetAudioFeatures(ctx context.Context, trackIDs []string) (map[string]track.Features, error) {
	if len(trackIDs) == 0 {
		return map[string]track.Features{}, nil
	}

	ids := make([]spotify.ID, len(trackIDs))
	for i, id := range trackIDs {
		ids[i] = spotify.ID(id)
	}

	var result []*spotify.AudioFeatures
	err := c.retry(ctx, func() error {
		r, err := c.client.GetAudioFeatures(ctx, ids...)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to get audio features")
	}

	features := make(map[string]track.Features, len(result))
	for _, af := range result {
		if af == nil {
			continue
		}
		features[string(af.ID)] = track.Features{
			Energy:       float64(af.Energy),
			Danceability: float64(af.Danceability),
			Valence:      float64(af.Valence),
			Tempo:        float64(af.Tempo),
		}
	}
	return features, nil
}

// features is GetAudioFeatures with failures logged and swallowed.
func (c *Client) features(ctx context.Context, ids []string) map[string]track.Features {
	features, err := c.GetAudioFeatures(ctx, ids)
	if err != nil {
		zlog.Warn().Msgf("spotify: audio features unavailable, using defaults: count=%d error=%v", len(ids), err)
		return map[string]track.Features{}
	}
	return features
}

func (c *Client) withFeatures(ctx context.Context, tracks []track.Track) []track.Track {
	features := c.features(ctx, track.IDs(tracks))
	for i, t := range tracks {
		if f, ok := features[t.ID]; ok {
			tracks[i] = t.WithFeatures(f)
		}
	}
	return tracks
}

// hydrate replaces simplified tracks with full catalog entries when available.
func (c *Client) hydrate(ctx context.Context, ids []spotify.ID, fallback []track.Track) []track.Track {
	if len(ids) == 0 {
		return fallback
	}

	full, err := c.client.GetTracks(ctx, ids, spotify.Market(c.market))
	if err != nil {
		zlog.Warn().Msgf("spotify: track hydration failed, using simplified tracks: error=%v", err)
		return fallback
	}

	tracks := make([]track.Track, 0, len(full))
	for _, t := range full {
		if t == nil || t.ID == "" {
			continue
		}
		tracks = append(tracks, c.convertTrack(t))
	}
	return tracks
}

// randomSeed combines crypto/rand with the clock for playlist sampling.
func randomSeed() int64 {
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		return int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return time.Now().UnixNano()
}
