package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/domain/track"
)

// MarketFilter drops candidates the session's device cannot play because of
// regional licensing. It is always first in the chain when spotify.market is set.
type MarketFilter struct {
	market string
}

// NewMarketFilter creates a filter for the given market code. An empty market
// accepts every candidate.
func NewMarketFilter(market string) *MarketFilter {
	return &MarketFilter{market: market}
}

func (f *MarketFilter) Name() string {
	return "market_filter"
}

func (f *MarketFilter) Description() string {
	return "Rejects candidates that cannot play in the configured market"
}

func (f *MarketFilter) ReturnCodes() []string {
	return []string{"market_restriction", "market_unknown"}
}

func (f *MarketFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *MarketFilter) Check(ctx context.Context, t track.Track, fc Context) Result {
	if f.market == "" {
		return Accept()
	}

	// Relinked tracks report IsPlayable; everything else must list markets.
	if t.IsPlayable == nil && len(t.Markets) == 0 {
		zlog.Debug().Msgf("candidate has no market data: seed=%s candidate=%s", fc.Seed.ID, t.ID)
		return Reject("market_unknown")
	}
	if !t.IsAvailableInMarket(f.market) {
		zlog.Debug().Msgf("candidate not playable in market: seed=%s candidate=%s market=%s", fc.Seed.ID, t.ID, f.market)
		return Reject("market_restriction")
	}
	return Accept()
}
