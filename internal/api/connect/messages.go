package connect

import (
	"github.com/osa030/djvote/internal/app/session"
)

// JoinRequest registers a voter.
type JoinRequest struct {
	DisplayName    string `json:"display_name"`
	ExternalUserID string `json:"external_user_id,omitempty"`
}

// JoinResponse carries the assigned voter ID.
type JoinResponse struct {
	ListenerID string `json:"listener_id"`
}

// CastVoteRequest votes for a candidate by index.
type CastVoteRequest struct {
	ListenerID string `json:"listener_id"`
	Index      int    `json:"index"`
}

// CastVoteResponse reports whether the vote counted.
type CastVoteResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	RoundID  string `json:"round_id,omitempty"`
	TrackID  string `json:"track_id,omitempty"`
	Resolved bool   `json:"resolved"`
}

// GetRoundRequest asks for the current round.
type GetRoundRequest struct{}

// GetRoundResponse is the current round and playback progress.
type GetRoundResponse struct {
	Round    *session.RoundView   `json:"round,omitempty"`
	Progress session.ProgressView `json:"progress"`
}

// GetVotesRequest asks for a round's persisted tally.
type GetVotesRequest struct {
	RoundID string `json:"round_id"`
}

// GetVotesResponse maps track IDs to vote counts.
type GetVotesResponse struct {
	RoundID string         `json:"round_id"`
	Counts  map[string]int `json:"counts"`
}

// SubscribeNotificationsRequest opens a notification stream.
type SubscribeNotificationsRequest struct{}

// GetStatusRequest asks for the session status.
type GetStatusRequest struct{}

// GetStatusResponse is the session status.
type GetStatusResponse struct {
	Status session.Status `json:"status"`
}

// SearchRequest searches the catalog for seeds.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResponse lists matching tracks.
type SearchResponse struct {
	Tracks []session.TrackView `json:"tracks"`
}

// StartRoundRequest seeds a new round. Seed is a track ID, URI, URL, or
// free-text query.
type StartRoundRequest struct {
	Seed string `json:"seed"`
}

// StartRoundResponse is the resolved seed.
type StartRoundResponse struct {
	Track session.TrackView `json:"track"`
}

// TogglePlayPauseRequest flips play/pause on the device.
type TogglePlayPauseRequest struct{}

// TogglePlayPauseResponse reports the resulting state.
type TogglePlayPauseResponse struct {
	Playing bool `json:"playing"`
}

// SetVolumeRequest sets the device volume (0-100).
type SetVolumeRequest struct {
	Level int `json:"level"`
}

// ReportPlayerStateRequest is a state push from a browser-hosted device.
type ReportPlayerStateRequest struct {
	DeviceID     string   `json:"device_id"`
	TrackURI     string   `json:"track_uri"`
	PositionMs   int64    `json:"position_ms"`
	Paused       bool     `json:"paused"`
	PreviousURIs []string `json:"previous_uris,omitempty"`
}

// KickRequest bars a voter.
type KickRequest struct {
	ListenerID string `json:"listener_id"`
}

// ListListenersRequest asks for all voters.
type ListListenersRequest struct{}

// ListenerInfo describes one voter.
type ListenerInfo struct {
	ListenerID  string `json:"listener_id"`
	DisplayName string `json:"display_name"`
	JoinedAt    string `json:"joined_at"`
	TotalVotes  int    `json:"total_votes"`
	IsKicked    bool   `json:"is_kicked"`
}

// ListListenersResponse lists voters in join order.
type ListListenersResponse struct {
	Listeners []ListenerInfo `json:"listeners"`
}

// StopSessionRequest ends the session.
type StopSessionRequest struct{}

// CommandResponse acknowledges an admin command.
type CommandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SkipRequest ends the current track.
type SkipRequest struct{}
