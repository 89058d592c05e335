// Package candidate selects the tracks offered for a vote.
package candidate

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/djvote/internal/domain/track"
)

// ErrNoCandidates is returned when neither the similarity providers nor
// the fallback pool yield a single usable track.
var ErrNoCandidates = errors.New("no candidates available")

// Provider is the interface for candidate track sources.
type Provider interface {
	// GetCandidates returns up to limit tracks related to seed.
	// exclude holds IDs that must not be returned.
	GetCandidates(ctx context.Context, seed track.Track, limit int, exclude map[string]bool) ([]track.Track, error)

	// Name returns the provider type (used in config).
	Name() string
}

// Catalog defines the catalog operations needed by candidate providers.
type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
	SearchTracks(ctx context.Context, query string, limit int) ([]track.Track, error)
	GetCandidatesForSeed(ctx context.Context, seed track.Track, limit int) ([]track.Track, error)
	GetTopTracks(ctx context.Context, limit int) ([]track.Track, error)
	GetPlaylistTracksRandom(ctx context.Context, playlistURL string, count int) ([]track.Track, error)
}

// excluded returns tracks whose IDs are not in exclude.
func excluded(tracks []track.Track, exclude map[string]bool) []track.Track {
	result := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		if !exclude[t.ID] {
			result = append(result, t)
		}
	}
	return result
}
