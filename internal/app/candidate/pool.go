package candidate

import (
	"context"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/domain/track"
)

// PlaylistProviderConfig represents the settings of a playlist pool.
type PlaylistProviderConfig struct {
	PlaylistURL string `mapstructure:"playlist_url" validate:"required"`
	CacheSize   int    `mapstructure:"cache_size" default:"50" validate:"gte=4,lte=100"`
}

// PlaylistProvider draws random tracks from a configured playlist, ignoring the seed.
// It keeps a cache of sampled tracks to minimize catalog calls.
type PlaylistProvider struct {
	catalog Catalog
	cache   []track.Track
	config  *PlaylistProviderConfig
}

// NewPlaylistProvider creates a new PlaylistProvider.
func NewPlaylistProvider(catalog Catalog, settings map[string]any) (*PlaylistProvider, error) {
	var config PlaylistProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	zlog.Debug().Msgf("playlist provider config: playlist_url=%s cache_size=%d", config.PlaylistURL, config.CacheSize)

	return &PlaylistProvider{
		catalog: catalog,
		cache:   make([]track.Track, 0),
		config:  &config,
	}, nil
}

// GetCandidates returns random playlist tracks not in exclude.
func (p *PlaylistProvider) GetCandidates(ctx context.Context, seed track.Track, limit int, exclude map[string]bool) ([]track.Track, error) {
	if limit <= 0 {
		return []track.Track{}, nil
	}

	available := excluded(p.cache, exclude)

	if len(available) < limit {
		needed := p.config.CacheSize - len(available)
		if needed < limit {
			needed = limit
		}
		fresh, err := p.catalog.GetPlaylistTracksRandom(ctx, p.config.PlaylistURL, needed)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get random tracks from playlist")
		}
		available = track.Dedupe(append(available, excluded(fresh, exclude)...))
	}

	if len(available) == 0 {
		return []track.Track{}, nil
	}

	n := min(limit, len(available))
	result := available[:n]
	p.cache = available[n:]
	return result, nil
}

// Name returns the provider name.
func (p *PlaylistProvider) Name() string {
	return "playlist"
}

// TopTracksProviderConfig represents the settings of the top tracks pool.
type TopTracksProviderConfig struct {
	Limit int `mapstructure:"limit" default:"50" validate:"gte=4,lte=50"`
}

// TopTracksProvider draws from the account's top tracks, ignoring the seed.
type TopTracksProvider struct {
	catalog Catalog
	config  *TopTracksProviderConfig
}

// NewTopTracksProvider creates a new TopTracksProvider.
func NewTopTracksProvider(catalog Catalog, settings map[string]any) (*TopTracksProvider, error) {
	var config TopTracksProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &TopTracksProvider{catalog: catalog, config: &config}, nil
}

// GetCandidates returns a random sample of top tracks not in exclude.
func (p *TopTracksProvider) GetCandidates(ctx context.Context, seed track.Track, limit int, exclude map[string]bool) ([]track.Track, error) {
	if limit <= 0 {
		return []track.Track{}, nil
	}

	tracks, err := p.catalog.GetTopTracks(ctx, p.config.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get top tracks")
	}

	result := excluded(tracks, exclude)
	rand.Shuffle(len(result), func(i, j int) {
		result[i], result[j] = result[j], result[i]
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Name returns the provider name.
func (p *TopTracksProvider) Name() string {
	return "top_tracks"
}
