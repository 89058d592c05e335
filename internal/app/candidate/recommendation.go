package candidate

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/djvote/internal/domain/track"
)

// RecommendationProvider asks the catalog for tracks that match the seed's
// audio features.
type RecommendationProvider struct {
	catalog Catalog
}

// NewRecommendationProvider creates a new RecommendationProvider.
func NewRecommendationProvider(catalog Catalog) (*RecommendationProvider, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	return &RecommendationProvider{catalog: catalog}, nil
}

// GetCandidates returns recommendations for seed.
func (p *RecommendationProvider) GetCandidates(ctx context.Context, seed track.Track, limit int, exclude map[string]bool) ([]track.Track, error) {
	if limit <= 0 {
		return []track.Track{}, nil
	}

	// Ask for extra so exclusions do not starve the result.
	tracks, err := p.catalog.GetCandidatesForSeed(ctx, seed, limit+len(exclude))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get recommendations")
	}

	result := excluded(tracks, exclude)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Name returns the provider name.
func (p *RecommendationProvider) Name() string {
	return "spotify"
}
