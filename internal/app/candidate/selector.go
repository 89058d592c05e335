package candidate

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/app/filter"
	"github.com/osa030/djvote/internal/domain/track"
)

// Selection is the outcome of one candidate fetch for a seed.
type Selection struct {
	SeedID   string
	Tracks   []track.Track
	Sources  []string // Provider display name per track
	Fallback bool     // The broad pool was consulted
}

// Selector picks the candidates for a round: similarity providers first,
// then a single attempt against the fallback pool when they fail or come up short.
type Selector struct {
	similar    *ProviderChain
	fallback   *ProviderChain
	filters    *filter.Chain
	count      int
	fetchLimit int
}

// NewSelector creates a new Selector. fallback and filters may be nil.
func NewSelector(similar, fallback *ProviderChain, filters *filter.Chain, count, fetchLimit int) *Selector {
	if fetchLimit < count {
		fetchLimit = count
	}
	return &Selector{
		similar:    similar,
		fallback:   fallback,
		filters:    filters,
		count:      count,
		fetchLimit: fetchLimit,
	}
}

// Count returns the number of candidates a full selection holds.
func (s *Selector) Count() int {
	return s.count
}

// Select returns up to Count candidates for seed, never including the seed
// and never repeating a track. recent feeds the recently played filter.
// A short selection is returned without error; an empty one is ErrNoCandidates.
func (s *Selector) Select(ctx context.Context, seed track.Track, recent []track.Track) (Selection, error) {
	sel := Selection{SeedID: seed.ID}
	fc := filter.Context{Seed: seed, Recent: recent}
	exclude := map[string]bool{seed.ID: true}

	var kept []Sourced
	var primaryErr error
	if s.similar != nil && s.similar.Len() > 0 {
		found, err := s.similar.GetCandidates(ctx, seed, s.fetchLimit, exclude)
		if err != nil {
			primaryErr = err
		}
		kept = s.keep(ctx, found, fc)
	}

	if primaryErr != nil || len(kept) < s.count {
		zlog.Info().Msgf("candidates short, trying fallback pool: seed=%s found=%d need=%d error=%v",
			seed.ID, len(kept), s.count, primaryErr)

		if s.fallback != nil && s.fallback.Len() > 0 {
			for _, c := range kept {
				exclude[c.Track.ID] = true
			}
			pool, err := s.fallback.GetCandidates(ctx, seed, s.fetchLimit, exclude)
			if err != nil {
				zlog.Warn().Msgf("fallback pool failed: seed=%s error=%v", seed.ID, err)
			}
			kept = append(kept, s.keep(ctx, pool, fc)...)
			sel.Fallback = true
		}
	}

	if len(kept) == 0 {
		if primaryErr != nil {
			return sel, errors.Mark(errors.Wrapf(primaryErr, "no candidates for seed %s", seed.ID), ErrNoCandidates)
		}
		return sel, errors.Wrapf(ErrNoCandidates, "seed %s", seed.ID)
	}

	if len(kept) > s.count {
		kept = kept[:s.count]
	}
	for _, c := range kept {
		sel.Tracks = append(sel.Tracks, c.Track)
		sel.Sources = append(sel.Sources, c.DisplayName)
	}

	zlog.Info().Msgf("candidates selected: seed=%s count=%d fallback=%t", seed.ID, len(sel.Tracks), sel.Fallback)
	return sel, nil
}

// keep drops candidates rejected by the filter chain and duplicates.
func (s *Selector) keep(ctx context.Context, found []Sourced, fc filter.Context) []Sourced {
	result := make([]Sourced, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, c := range found {
		if c.Track.ID == fc.Seed.ID || seen[c.Track.ID] {
			continue
		}
		if s.filters != nil {
			if r := s.filters.Execute(ctx, c.Track, fc); !r.Accepted {
				zlog.Debug().Msgf("candidate rejected by filter: track_id=%s name=%s reason=%s", c.Track.ID, c.Track.Name, r.Code)
				continue
			}
		}
		seen[c.Track.ID] = true
		result = append(result, c)
	}
	return result
}
