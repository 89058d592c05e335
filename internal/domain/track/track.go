// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// DefaultDuration is used when the catalog omits a track's duration.
const DefaultDuration = 180 * time.Second

// DefaultFeature is used when audio features are unavailable for a track.
const DefaultFeature = 0.5

// Track represents a catalog track.
// Values are immutable once fetched; copy instead of mutating.
type Track struct {
	ID           string        // Catalog ID
	Name         string        // Track name
	Artist       string        // Artist names joined with ", "
	Artists      []string      // Artist names
	Album        string        // Album name
	AlbumArtURL  string        // Album art URL
	Duration     time.Duration // Track duration
	URI          string        // Playback URI (spotify:track:...)
	PreviewURL   string        // Preview clip URL (optional)
	Popularity   float64       // Popularity normalized to [0,1]
	Energy       float64       // Audio feature in [0,1]
	Danceability float64       // Audio feature in [0,1]
	Valence      float64       // Audio feature in [0,1]
	Tempo        float64       // BPM, recommendation target only
	Markets      []string      // Available markets
	IsPlayable   *bool         // Playable in the requested market (nil if market not specified)
}

// Features holds the audio characteristics used for candidate selection.
type Features struct {
	Energy       float64
	Danceability float64
	Valence      float64
	Tempo        float64
}

// New normalizes catalog fields into a Track.
// A zero duration falls back to DefaultDuration.
func New(id, name string, artists []string, album string, duration time.Duration, uri string) Track {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return Track{
		ID:           id,
		Name:         name,
		Artist:       strings.Join(artists, ", "),
		Artists:      artists,
		Album:        album,
		Duration:     duration,
		URI:          uri,
		Energy:       DefaultFeature,
		Danceability: DefaultFeature,
		Valence:      DefaultFeature,
	}
}

// Seconds returns the duration in whole seconds.
func (t Track) Seconds() int {
	if t.Duration <= 0 {
		return int(DefaultDuration / time.Second)
	}
	return int(t.Duration / time.Second)
}

// WithFeatures returns a copy of t with the given audio features applied.
func (t Track) WithFeatures(f Features) Track {
	t.Energy = f.Energy
	t.Danceability = f.Danceability
	t.Valence = f.Valence
	t.Tempo = f.Tempo
	return t
}

// Features returns the audio characteristics of the track.
func (t Track) Features() Features {
	return Features{
		Energy:       t.Energy,
		Danceability: t.Danceability,
		Valence:      t.Valence,
		Tempo:        t.Tempo,
	}
}

// IsAvailableInMarket checks if the track is available in the specified market.
func (t *Track) IsAvailableInMarket(market string) bool {
	// IsPlayable takes precedence (track relinking)
	if t.IsPlayable != nil {
		return *t.IsPlayable
	}

	for _, m := range t.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// IDs returns the IDs of the given tracks in order.
func IDs(tracks []Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}

// Dedupe returns tracks with duplicate IDs and any excluded IDs removed, preserving order.
func Dedupe(tracks []Track, exclude ...string) []Track {
	seen := make(map[string]bool, len(tracks)+len(exclude))
	for _, id := range exclude {
		seen[id] = true
	}

	result := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		result = append(result, t)
	}
	return result
}
