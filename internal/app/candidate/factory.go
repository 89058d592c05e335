package candidate

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/app/filter"
	"github.com/osa030/djvote/internal/infra/config"
)

// NewSelectorFromConfig creates a selector with similarity and fallback
// provider chains built from configuration.
func NewSelectorFromConfig(cfg *config.Config, catalog Catalog, filters *filter.Chain) (*Selector, error) {
	similar, err := NewProviderChainFromConfig(cfg.Candidates.Providers, catalog)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create candidate providers")
	}
	if similar.Len() == 0 {
		return nil, errors.New("no candidate providers configured")
	}

	fallback, err := NewProviderChainFromConfig(cfg.Candidates.Fallback, catalog)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fallback providers")
	}

	return NewSelector(similar, fallback, filters, cfg.Round.CandidateCount, cfg.Candidates.FetchLimit), nil
}

// NewProviderChainFromConfig creates a provider chain from provider configurations.
func NewProviderChainFromConfig(configs []config.ProviderConfig, catalog Catalog) (*ProviderChain, error) {
	var providers []ProviderWithMetadata

	for i, pcfg := range configs {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating candidate provider: index=%d type=%s", i+1, pcfg.Type)
		switch pcfg.Type {
		case "spotify":
			provider, err = NewRecommendationProvider(catalog)

		case "lastfm":
			provider, err = NewLastFmProvider(catalog, pcfg.Settings)

		case "top_tracks":
			provider, err = NewTopTracksProvider(catalog, pcfg.Settings)

		case "playlist":
			provider, err = NewPlaylistProvider(catalog, pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered candidate provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewProviderChain(providers), nil
}
