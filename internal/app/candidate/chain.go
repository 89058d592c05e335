package candidate

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/domain/track"
)

// Sourced is a candidate with the display name of the provider that found it.
type Sourced struct {
	Track       track.Track
	DisplayName string
}

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// ProviderChain tries providers in order until enough candidates are found.
type ProviderChain struct {
	providers []ProviderWithMetadata
}

// NewProviderChain creates a new provider chain.
func NewProviderChain(providers []ProviderWithMetadata) *ProviderChain {
	return &ProviderChain{
		providers: providers,
	}
}

// Len returns the number of providers in the chain.
func (c *ProviderChain) Len() int {
	return len(c.providers)
}

// GetCandidates collects candidates from providers in order, stopping once
// limit unique tracks are gathered. A failing provider falls through to the next.
func (c *ProviderChain) GetCandidates(ctx context.Context, seed track.Track, limit int, excludeIDs map[string]bool) ([]Sourced, error) {
	var all []Sourced
	exclude := make(map[string]bool, len(excludeIDs))
	for k, v := range excludeIDs {
		exclude[k] = v
	}

	var lastErr error
	for i, pm := range c.providers {
		if len(all) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return all, err
		}

		zlog.Debug().Msgf("trying provider: index=%d total=%d name=%s provider_type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		candidates, err := pm.Provider.GetCandidates(ctx, seed, limit-len(all), exclude)
		if err != nil {
			zlog.Warn().Msgf("provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			lastErr = err
			continue
		}

		added := 0
		for _, t := range candidates {
			if t.ID == "" || exclude[t.ID] {
				continue
			}
			exclude[t.ID] = true
			all = append(all, Sourced{Track: t, DisplayName: pm.DisplayName})
			added++
		}

		zlog.Info().Msgf("provider returned candidates: provider=%s seed=%s count=%d total_so_far=%d",
			pm.DisplayName, seed.ID, added, len(all))
	}

	if len(all) == 0 {
		if lastErr != nil {
			return nil, errors.Wrap(lastErr, "all providers failed to return candidates")
		}
		return nil, ErrNoCandidates
	}
	return all, nil
}
