// Package vote defines the persisted vote record.
package vote

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalid is returned for votes missing a round, voter, or track.
var ErrInvalid = errors.New("invalid vote")

// Vote is one voter's choice in one round.
type Vote struct {
	RoundID string
	VoterID string
	TrackID string
	CastAt  time.Time
}

// Result reports whether a vote was counted and the round's vote total after it.
// A repeated (round, voter) pair is not counted and not an error.
type Result struct {
	Accepted   bool
	TotalVotes int
}

// Validate checks that all identifiers are present.
func (v Vote) Validate() error {
	switch {
	case v.RoundID == "":
		return errors.Wrap(ErrInvalid, "round id is required")
	case v.VoterID == "":
		return errors.Wrap(ErrInvalid, "voter id is required")
	case v.TrackID == "":
		return errors.Wrap(ErrInvalid, "track id is required")
	}
	return nil
}
