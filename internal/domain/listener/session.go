// Package listener provides the voter Session domain entity.
package listener

import "time"

// Session represents a joined voter.
type Session struct {
	ID             string     // UUID, used as the voter id
	DisplayName    string     // Display name
	ExternalUserID string     // Client-side identity for rejoining (browser or CLI, optional)
	IsKicked       bool       // Kicked voters cannot vote
	JoinedAt       time.Time  // Join time
	TotalVotes     int        // Accepted votes across all rounds
	LastVoteAt     *time.Time // Last accepted vote time
}

// NewSession creates a new voter session.
func NewSession(id, displayName, externalUserID string) *Session {
	return &Session{
		ID:             id,
		DisplayName:    displayName,
		ExternalUserID: externalUserID,
		JoinedAt:       time.Now(),
	}
}

// RecordVote counts an accepted vote.
func (s *Session) RecordVote(at time.Time) {
	s.TotalVotes++
	s.LastVoteAt = &at
}

// Kick marks the voter as kicked.
func (s *Session) Kick() {
	s.IsKicked = true
}

// CanVote reports whether the voter may cast votes.
func (s *Session) CanVote() bool {
	return !s.IsKicked
}
