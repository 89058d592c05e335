package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/djvote/internal/domain/track"
)

// RecentlyPlayedConfig represents the configuration for RecentlyPlayedFilter.
type RecentlyPlayedConfig struct {
	Window     int  `mapstructure:"window" default:"20" validate:"gte=1,lte=200"`
	SameArtist bool `mapstructure:"same_artist"` // Also reject the seed's main artist
}

// RecentlyPlayedFilter rejects candidates that were played recently.
// Detects:
// - Exact track ID matches
// - Other versions (normalized track name + same main artist)
// Covers (same name, different artist) pass.
type RecentlyPlayedFilter struct {
	config RecentlyPlayedConfig
}

// NewRecentlyPlayedFilter creates a new recently played filter with defaults.
func NewRecentlyPlayedFilter() *RecentlyPlayedFilter {
	f := &RecentlyPlayedFilter{}
	_ = defaults.Set(&f.config)
	return f
}

func (f *RecentlyPlayedFilter) Name() string {
	return "recently_played_filter"
}

func (f *RecentlyPlayedFilter) Description() string {
	return "Rejects candidates played within the recent window, including remasters and alternate versions"
}

func (f *RecentlyPlayedFilter) ReturnCodes() []string {
	return []string{"recently_played", "same_artist"}
}

func (f *RecentlyPlayedFilter) ValidateConfig(settings map[string]any) error {
	var config RecentlyPlayedConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	f.config = config
	return nil
}

func (f *RecentlyPlayedFilter) Check(ctx context.Context, t track.Track, fc Context) Result {
	if f.config.SameArtist && fc.Seed.ID != "" && isSameArtist(fc.Seed, t) {
		return Reject("same_artist")
	}

	if fc.Seed.ID != "" && isSameSong(fc.Seed, t) {
		return Reject("recently_played")
	}

	recent := fc.Recent
	if len(recent) > f.config.Window {
		recent = recent[:f.config.Window]
	}
	for _, played := range recent {
		if isSameSong(played, t) {
			return Reject("recently_played")
		}
	}
	return Accept()
}

// isSameSong reports whether two tracks are the same recording or another version of it.
func isSameSong(a, b track.Track) bool {
	if a.ID == b.ID {
		return true
	}
	if normalizeTrackName(a.Name) != normalizeTrackName(b.Name) {
		return false
	}
	return isSameArtist(a, b)
}

var (
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),
		regexp.MustCompile(`\s*\(.*?version\)`),        // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),           // "(Radio Edit)"
		regexp.MustCompile(`\s*\(live\)`),              // "(Live)"
		regexp.MustCompile(`\s*-\s*live\b.*$`),         // "- Live at Wembley"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`), // "- Single Version"
	}
	spaces = regexp.MustCompile(`\s+`)
)

// normalizeTrackName strips remaster and version suffixes.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	normalized = spaces.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

// isSameArtist compares main artists, case-insensitively.
func isSameArtist(a, b track.Track) bool {
	if len(a.Artists) == 0 || len(b.Artists) == 0 {
		return false
	}
	return strings.EqualFold(a.Artists[0], b.Artists[0])
}

func init() {
	Register("recently_played_filter", func() Filter {
		return NewRecentlyPlayedFilter()
	})
}
