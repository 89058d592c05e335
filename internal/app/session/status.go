package session

import (
	"github.com/osa030/djvote/internal/app/session/state"
	"github.com/osa030/djvote/internal/domain/round"
	"github.com/osa030/djvote/internal/domain/track"
)

// TrackView is the presentation form of a track.
type TrackView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	AlbumArtURL string `json:"album_art_url,omitempty"`
	DurationSec int    `json:"duration_sec"`
	URI         string `json:"uri"`
	PreviewURL  string `json:"preview_url,omitempty"`
	Source      string `json:"source,omitempty"` // Candidate provider display name
}

// RoundView is the presentation form of a round.
type RoundView struct {
	ID            string      `json:"id"`
	State         string      `json:"state"`
	Seed          TrackView   `json:"seed"`
	Candidates    []TrackView `json:"candidates"`
	VoteCounts    []int       `json:"vote_counts"`
	TotalVotes    int         `json:"total_votes"`
	VotingOpen    bool        `json:"voting_open"`
	TimeRemaining int         `json:"time_remaining"`
	WinnerIndex   int         `json:"winner_index"`
	ResolvedBy    string      `json:"resolved_by,omitempty"`
}

// ProgressView reports the playing track's progress.
type ProgressView struct {
	TrackID     string `json:"track_id,omitempty"`
	ElapsedSec  int    `json:"elapsed_sec"`
	DurationSec int    `json:"duration_sec"`
	State       string `json:"state"`
}

// Status is a point-in-time copy of the session.
type Status struct {
	Session   state.Info   `json:"session"`
	Round     *RoundView   `json:"round,omitempty"`
	Progress  ProgressView `json:"progress"`
	Loading   string       `json:"loading,omitempty"` // Track ID with an outstanding load
	Listeners int          `json:"listeners"`
	Recent    []TrackView  `json:"recent,omitempty"`
}

// NewTrackView converts a track for presentation.
func NewTrackView(t track.Track) TrackView {
	return TrackView{
		ID:          t.ID,
		Name:        t.Name,
		Artist:      t.Artist,
		Album:       t.Album,
		AlbumArtURL: t.AlbumArtURL,
		DurationSec: t.Seconds(),
		URI:         t.URI,
		PreviewURL:  t.PreviewURL,
	}
}

// NewRoundView converts a round for presentation. sources may be nil.
func NewRoundView(r round.Round, sources []string) *RoundView {
	v := &RoundView{
		ID:            r.ID,
		State:         r.State.String(),
		Seed:          NewTrackView(r.Seed),
		Candidates:    make([]TrackView, 0, len(r.Candidates)),
		VoteCounts:    append([]int{}, r.VoteCounts...),
		TotalVotes:    r.TotalVotes(),
		VotingOpen:    r.WindowOpen(),
		TimeRemaining: r.TimeRemaining,
		WinnerIndex:   r.WinnerIndex,
		ResolvedBy:    string(r.ResolvedBy),
	}
	for i, c := range r.Candidates {
		tv := NewTrackView(c)
		if i < len(sources) {
			tv.Source = sources[i]
		}
		v.Candidates = append(v.Candidates, tv)
	}
	return v
}
