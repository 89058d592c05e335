package candidate

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/domain/track"
	"github.com/osa030/djvote/internal/infra/lastfm"
)

// LastFmClient defines the interface for Last.fm operations.
type LastFmClient interface {
	GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.TrackRef, error)
	GetTopTags(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.Tag, error)
	GetTagTopTracks(ctx context.Context, tagName string, limit int) ([]lastfm.TrackRef, error)
	GetChartTopTracks(ctx context.Context, limit int) ([]lastfm.TrackRef, error)
}

// LastFmProviderConfig represents the settings of the Last.fm provider.
type LastFmProviderConfig struct {
	APIKey        string  `mapstructure:"api_key" validate:"required"`
	SimilarLimit  int     `mapstructure:"similar_limit" default:"30" validate:"gte=1,lte=100"`
	TagCount      int     `mapstructure:"tag_count" default:"2" validate:"gte=0,lte=10"`
	TagWeight     float64 `mapstructure:"tag_weight" default:"0.3" validate:"gte=0,lte=1.0"`
	SimilarWeight float64 `mapstructure:"similar_weight" default:"0.7" validate:"gte=0,lte=1.0"`
}

// LastFmProvider finds tracks similar to the seed through Last.fm and
// resolves them against the catalog. Similar tracks and tag charts are
// scored and merged; tracks found by both rank highest.
type LastFmProvider struct {
	lastfm  LastFmClient
	catalog Catalog
	config  *LastFmProviderConfig

	cacheMu sync.RWMutex
	resolve map[string]*track.Track // Catalog lookups by query; nil records a miss
}

type scoredRef struct {
	ref   lastfm.TrackRef
	score float64
	order int
}

// NewLastFmProvider creates a new LastFmProvider.
func NewLastFmProvider(catalog Catalog, settings map[string]any) (*LastFmProvider, error) {
	config, err := decodeLastFmConfig(settings)
	if err != nil {
		return nil, err
	}

	client, err := lastfm.New(lastfm.Config{APIKey: config.APIKey})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}
	return newLastFmProvider(catalog, client, config)
}

func newLastFmProvider(catalog Catalog, client LastFmClient, config *LastFmProviderConfig) (*LastFmProvider, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	return &LastFmProvider{
		lastfm:  client,
		catalog: catalog,
		config:  config,
		resolve: make(map[string]*track.Track),
	}, nil
}

func decodeLastFmConfig(settings map[string]any) (*LastFmProviderConfig, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config LastFmProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	if math.Abs(config.TagWeight+config.SimilarWeight-1.0) > 1e-9 {
		return nil, errors.New("tag weight and similar weight must sum to 1.0")
	}
	return &config, nil
}

// GetCandidates returns up to limit catalog tracks related to seed.
// A seed without an artist falls back to the global chart.
func (p *LastFmProvider) GetCandidates(ctx context.Context, seed track.Track, limit int, exclude map[string]bool) ([]track.Track, error) {
	if limit <= 0 {
		return []track.Track{}, nil
	}

	var refs []scoredRef
	if len(seed.Artists) == 0 {
		chart, err := p.lastfm.GetChartTopTracks(ctx, 50)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get chart")
		}
		for i, ref := range chart {
			refs = append(refs, scoredRef{ref: ref, score: 1, order: i})
		}
	} else {
		var err error
		refs, err = p.gather(ctx, seed)
		if err != nil {
			return nil, err
		}
	}

	result := make([]track.Track, 0, limit)
	seen := make(map[string]bool)
	for _, r := range refs {
		if len(result) >= limit {
			break
		}
		t := p.lookup(ctx, r.ref)
		if t == nil || t.ID == seed.ID || exclude[t.ID] || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		result = append(result, *t)
	}

	zlog.Debug().Msgf("lastfm: candidates resolved: seed=%s refs=%d resolved=%d", seed.ID, len(refs), len(result))
	return result, nil
}

// gather fetches similar tracks and tag charts concurrently and ranks them.
// It fails only when the similar-track lookup fails.
func (p *LastFmProvider) gather(ctx context.Context, seed track.Track) ([]scoredRef, error) {
	artist := seed.Artists[0]

	var (
		similar    []lastfm.TrackRef
		similarErr error
		tagged     []lastfm.TrackRef
		mu         sync.Mutex
		wg         sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		similar, similarErr = p.lastfm.GetSimilarTracks(ctx, seed.Name, artist, p.config.SimilarLimit)
	}()

	if p.config.TagCount > 0 && p.config.TagWeight > 0 {
		tags, err := p.lastfm.GetTopTags(ctx, seed.Name, artist, p.config.TagCount)
		if err != nil {
			zlog.Warn().Msgf("lastfm: tags unavailable, using similar tracks only: seed=%s error=%v", seed.ID, err)
		}
		for _, tag := range tags {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				refs, err := p.lastfm.GetTagTopTracks(ctx, name, 20)
				if err != nil {
					return
				}
				mu.Lock()
				tagged = append(tagged, refs...)
				mu.Unlock()
			}(tag.Name)
		}
	}
	wg.Wait()

	if similarErr != nil {
		return nil, errors.Wrap(similarErr, "failed to get similar tracks")
	}
	return p.score(similar, tagged), nil
}

// score merges similar and tagged references, highest score first.
func (p *LastFmProvider) score(similar, tagged []lastfm.TrackRef) []scoredRef {
	byKey := make(map[string]*scoredRef)
	order := 0
	add := func(ref lastfm.TrackRef, score float64) {
		key := ref.Query()
		if existing, ok := byKey[key]; ok {
			existing.score += score
			return
		}
		byKey[key] = &scoredRef{ref: ref, score: score, order: order}
		order++
	}

	for _, ref := range similar {
		add(ref, p.config.SimilarWeight*(0.5+ref.Match/2))
	}
	for _, ref := range tagged {
		add(ref, p.config.TagWeight)
	}

	result := make([]scoredRef, 0, len(byKey))
	for _, r := range byKey {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].score != result[j].score {
			return result[i].score > result[j].score
		}
		return result[i].order < result[j].order
	})
	return result
}

// lookup resolves a Last.fm reference to a catalog track, with caching.
func (p *LastFmProvider) lookup(ctx context.Context, ref lastfm.TrackRef) *track.Track {
	key := ref.Query()

	p.cacheMu.RLock()
	cached, ok := p.resolve[key]
	p.cacheMu.RUnlock()
	if ok {
		return cached
	}

	var found *track.Track
	results, err := p.catalog.SearchTracks(ctx, key, 1)
	if err == nil && len(results) > 0 {
		found = &results[0]
	}

	// Transient failures are not cached as misses.
	if err == nil {
		p.cacheMu.Lock()
		p.resolve[key] = found
		p.cacheMu.Unlock()
	}
	return found
}

// Name returns the provider name.
func (p *LastFmProvider) Name() string {
	return "lastfm"
}
