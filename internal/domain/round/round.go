// Package round provides the Round domain entity, the unit of voting.
package round

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/osa030/djvote/internal/domain/track"
)

// State represents the lifecycle state of a round.
type State int

const (
	StateAwaitingSeed State = iota // No seed track yet
	StatePlaying                   // Seed loaded, voting not open
	StateVotingOpen                // Voting window open, no winner yet
	StateResolved                  // Winner chosen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingSeed:
		return "awaiting_seed"
	case StatePlaying:
		return "playing"
	case StateVotingOpen:
		return "voting_open"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// ResolvedBy records how the winner was chosen.
type ResolvedBy string

const (
	ResolvedByNone      ResolvedBy = ""
	ResolvedByVote      ResolvedBy = "vote"
	ResolvedByCountdown ResolvedBy = "countdown"
	ResolvedByFallback  ResolvedBy = "fallback"
)

// Round is one seed-track-to-next-seed cycle.
type Round struct {
	ID              string
	Seed            track.Track
	Candidates      []track.Track
	VoteCounts      []int // len(VoteCounts) == len(Candidates)
	State           State
	Winner          *track.Track // Set once, never cleared
	WinnerIndex     int          // -1 until resolved
	VotingTriggered bool         // One-shot per track instance
	TimeRemaining   int          // Countdown seconds while the window is open
	Voters          map[string]int
	ResolvedBy      ResolvedBy
	StartedAt       time.Time
}

// NewID builds a round ID from a clock reading and the seed track ID.
func NewID(now time.Time, seedID string) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), seedID)
}

// New creates a round for the given seed in StatePlaying with no candidates.
func New(seed track.Track, now time.Time) *Round {
	return &Round{
		ID:          NewID(now, seed.ID),
		Seed:        seed,
		Candidates:  []track.Track{},
		VoteCounts:  []int{},
		State:       StatePlaying,
		WinnerIndex: -1,
		Voters:      make(map[string]int),
		StartedAt:   now,
	}
}

// WindowOpen reports whether votes are currently being counted.
func (r *Round) WindowOpen() bool {
	return r.VotingTriggered && r.TimeRemaining > 0
}

// HasWinner reports whether the round has been resolved.
func (r *Round) HasWinner() bool {
	return r.Winner != nil
}

// TotalVotes returns the sum of all vote counts.
func (r *Round) TotalVotes() int {
	total := 0
	for _, c := range r.VoteCounts {
		total += c
	}
	return total
}

// SetWinner records the winner. It is a no-op if a winner already exists.
func (r *Round) SetWinner(index int, by ResolvedBy) bool {
	if r.Winner != nil || index < 0 || index >= len(r.Candidates) {
		return false
	}
	w := r.Candidates[index]
	r.Winner = &w
	r.WinnerIndex = index
	r.ResolvedBy = by
	r.State = StateResolved
	return true
}

// Clone returns a deep copy safe to hand to readers.
func (r *Round) Clone() Round {
	c := *r
	c.Candidates = append([]track.Track(nil), r.Candidates...)
	c.VoteCounts = append([]int(nil), r.VoteCounts...)
	c.Voters = make(map[string]int, len(r.Voters))
	for k, v := range r.Voters {
		c.Voters[k] = v
	}
	if r.Winner != nil {
		w := *r.Winner
		c.Winner = &w
	}
	return c
}

// Resolve picks the winning index from vote counts.
// A unique maximum wins; ties are broken uniformly at random among the tied
// indices; when every count is zero, index 0 wins. Returns -1 for no counts.
func Resolve(counts []int, rng *rand.Rand) int {
	if len(counts) == 0 {
		return -1
	}

	best := 0
	var tied []int
	for i, c := range counts {
		switch {
		case c > best:
			best = c
			tied = []int{i}
		case c == best && c > 0:
			tied = append(tied, i)
		}
	}

	if best == 0 {
		return 0
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return tied[rng.IntN(len(tied))]
}
