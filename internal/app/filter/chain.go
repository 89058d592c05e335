package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/domain/track"
	"github.com/osa030/djvote/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig builds the chain from configuration.
// The market filter is always installed when a market is set; registered
// filters are installed when enabled, in name order.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	c := NewChain()
	if cfg.Spotify.Market != "" {
		c.Add(NewMarketFilter(cfg.Spotify.Market))
	}

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(cfg.FilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for filter %s", name)
		}
		c.Add(f)
	}

	for name := range cfg.Filters {
		if _, ok := registry[name]; !ok && name != "market_filter" {
			zlog.Warn().Msgf("unknown filter in config, ignoring: name=%s", name)
		}
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the track.
func (c *Chain) Execute(ctx context.Context, t track.Track, fc Context) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, t, fc)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Apply returns the tracks every filter accepts, preserving order.
func (c *Chain) Apply(ctx context.Context, tracks []track.Track, fc Context) []track.Track {
	if len(c.filters) == 0 {
		return tracks
	}

	kept := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		result := c.Execute(ctx, t, fc)
		if !result.Accepted {
			zlog.Debug().Msgf("candidate rejected by filter: track_id=%s name=%s reason=%s", t.ID, t.Name, result.Code)
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
