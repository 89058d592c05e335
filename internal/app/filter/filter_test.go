package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/djvote/internal/domain/track"
	"github.com/osa030/djvote/internal/infra/config"
)

func TestMarketFilter_Check(t *testing.T) {
	playable := true
	unplayable := false

	tests := []struct {
		name         string
		filterMarket string
		trackMarkets []string
		isPlayable   *bool
		wantCode     string
	}{
		{name: "track available in market", filterMarket: "JP", trackMarkets: []string{"JP", "US"}},
		{name: "track not available in market", filterMarket: "JP", trackMarkets: []string{"US"}, wantCode: "market_restriction"},
		{name: "no market filter", trackMarkets: []string{"US"}},
		{name: "no market data", filterMarket: "JP", trackMarkets: []string{}, wantCode: "market_unknown"},
		{name: "relinked playable", filterMarket: "JP", isPlayable: &playable},
		{name: "relinked unplayable", filterMarket: "JP", trackMarkets: []string{"JP"}, isPlayable: &unplayable, wantCode: "market_restriction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewMarketFilter(tt.filterMarket)
			trk := track.Track{ID: "t1", Markets: tt.trackMarkets, IsPlayable: tt.isPlayable}

			result := f.Check(context.Background(), trk, Context{Seed: track.Track{ID: "seed"}})

			assert.Equal(t, tt.wantCode == "", result.Accepted)
			assert.Equal(t, tt.wantCode, result.Code)
			if tt.wantCode != "" {
				assert.Contains(t, f.ReturnCodes(), tt.wantCode)
			}
		})
	}
}

func TestRecentlyPlayedFilter_Check(t *testing.T) {
	seed := track.Track{ID: "seed", Name: "Bohemian Rhapsody", Artists: []string{"Queen"}}
	recent := []track.Track{
		{ID: "r1", Name: "Yesterday", Artists: []string{"The Beatles"}},
		{ID: "r2", Name: "Hotel California", Artists: []string{"Eagles"}},
	}

	tests := []struct {
		name      string
		candidate track.Track
		wantCode  string
	}{
		{name: "unrelated track", candidate: track.Track{ID: "c1", Name: "Let It Be", Artists: []string{"The Beatles"}}},
		{name: "exact recent id", candidate: track.Track{ID: "r1", Name: "Yesterday"}, wantCode: "recently_played"},
		{name: "seed remaster", candidate: track.Track{ID: "c2", Name: "Bohemian Rhapsody - 2011 Remaster", Artists: []string{"Queen"}}, wantCode: "recently_played"},
		{name: "recent remaster in parentheses", candidate: track.Track{ID: "c3", Name: "Yesterday (Remastered 2009)", Artists: []string{"the beatles"}}, wantCode: "recently_played"},
		{name: "live version", candidate: track.Track{ID: "c4", Name: "Hotel California - Live at the Forum", Artists: []string{"Eagles"}}, wantCode: "recently_played"},
		{name: "cover by another artist", candidate: track.Track{ID: "c5", Name: "Yesterday", Artists: []string{"Ray Charles"}}},
		{name: "word containing live", candidate: track.Track{ID: "c6", Name: "Alive", Artists: []string{"Pearl Jam"}}},
	}

	f := NewRecentlyPlayedFilter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(context.Background(), tt.candidate, Context{Seed: seed, Recent: recent})
			if tt.wantCode == "" {
				assert.True(t, result.Accepted)
				return
			}
			assert.False(t, result.Accepted)
			assert.Equal(t, tt.wantCode, result.Code)
		})
	}
}

func TestRecentlyPlayedFilter_Window(t *testing.T) {
	f := NewRecentlyPlayedFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{"window": 1}))

	recent := []track.Track{{ID: "new"}, {ID: "old"}}

	assert.False(t, f.Check(context.Background(), track.Track{ID: "new"}, Context{Recent: recent}).Accepted)
	assert.True(t, f.Check(context.Background(), track.Track{ID: "old"}, Context{Recent: recent}).Accepted)
}

func TestRecentlyPlayedFilter_SameArtist(t *testing.T) {
	f := NewRecentlyPlayedFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{"same_artist": true}))

	seed := track.Track{ID: "seed", Name: "Song A", Artists: []string{"Queen"}}
	result := f.Check(context.Background(), track.Track{ID: "c1", Name: "Song B", Artists: []string{"Queen"}}, Context{Seed: seed})

	assert.False(t, result.Accepted)
	assert.Equal(t, "same_artist", result.Code)
}

func TestNormalizeTrackName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "Bohemian Rhapsody - 2011 Remaster", expected: "bohemian rhapsody"},
		{input: "Yesterday (Remastered 2009)", expected: "yesterday"},
		{input: "Song [Remastered]", expected: "song"},
		{input: "Song (Single Version)", expected: "song"},
		{input: "Song - Radio Edit", expected: "song"},
		{input: "  Spaced   Out  ", expected: "spaced out"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeTrackName(tt.input))
		})
	}
}

func TestChain_Apply(t *testing.T) {
	chain := NewChain()
	chain.Add(NewMarketFilter("JP"))
	chain.Add(NewRecentlyPlayedFilter())

	tracks := []track.Track{
		{ID: "a", Markets: []string{"JP"}},
		{ID: "b", Markets: []string{"US"}},
		{ID: "seed", Markets: []string{"JP"}},
		{ID: "c", Markets: []string{"JP"}},
	}

	kept := chain.Apply(context.Background(), tracks, Context{Seed: track.Track{ID: "seed"}})
	assert.Equal(t, []string{"a", "c"}, track.IDs(kept))

	result := chain.Execute(context.Background(), tracks[1], Context{})
	assert.Equal(t, Reject("market_restriction"), result)
}

func TestNewChainFromConfig(t *testing.T) {
	cfg := &config.Config{
		Spotify: config.SpotifyConfig{Market: "JP"},
		Filters: map[string]config.FilterConfig{
			"duration_limit_filter":  {Enabled: true, Settings: map[string]any{"min_seconds": 90}},
			"recently_played_filter": {Enabled: false},
		},
	}

	chain, err := NewChainFromConfig(cfg)
	require.NoError(t, err)

	names := make([]string, 0)
	for _, f := range chain.Filters() {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{"market_filter", "duration_limit_filter"}, names)

	cfg.Filters["duration_limit_filter"] = config.FilterConfig{Enabled: true, Settings: map[string]any{"min_seconds": 10}}
	_, err = NewChainFromConfig(cfg)
	assert.Error(t, err)
}

func TestRegistered(t *testing.T) {
	registered := GetRegistered()
	assert.Contains(t, registered, "duration_limit_filter")
	assert.Contains(t, registered, "recently_played_filter")

	for name, factory := range registered {
		f := factory()
		assert.Equal(t, name, f.Name())
		assert.NotEmpty(t, f.ReturnCodes())
	}
}
