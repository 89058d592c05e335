// Package round drives the lifecycle of one "now playing, vote, next track" round.
//
// Machine is not safe for concurrent use. It is owned by the session event loop,
// which serializes every call.
package round

import (
	"math/rand/v2"
	"time"

	"github.com/osa030/djvote/internal/domain/round"
	"github.com/osa030/djvote/internal/domain/track"
	zlog "github.com/rs/zerolog/log"
)

// Policy selects how votes resolve a round.
type Policy string

const (
	// PolicyFirstVote resolves the round on the first accepted vote.
	PolicyFirstVote Policy = "first_vote"
	// PolicyPlurality resolves the round by tally when the countdown expires.
	PolicyPlurality Policy = "plurality"
)

// Config holds round machine configuration.
type Config struct {
	WindowSeconds   int    // Voting window length in ticks
	EndGuardSeconds int    // Voting never opens with this many seconds or fewer left
	CandidateCount  int    // Candidates per round
	Policy          Policy // Vote resolution policy
}

// DefaultConfig returns the standard round configuration.
func DefaultConfig() Config {
	return Config{
		WindowSeconds:   15,
		EndGuardSeconds: 10,
		CandidateCount:  4,
		Policy:          PolicyFirstVote,
	}
}

// Reason explains why a vote was rejected.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonNoRound    Reason = "no_round"
	ReasonNotOpen    Reason = "not_open"
	ReasonDuplicate  Reason = "duplicate"
	ReasonOutOfRange Reason = "out_of_range"
)

// VoteResult is the decision for a single vote attempt.
type VoteResult struct {
	Accepted bool
	Reason   Reason
	RoundID  string
	Index    int
	Track    track.Track // Voted candidate (zero if rejected)
	Resolved bool        // This vote resolved the round
}

// EventType represents a round transition produced by the machine.
type EventType int

const (
	EventVotingOpened EventType = iota // Voting window opened
	EventCountdown                     // Countdown decremented
	EventVotingClosed                  // Countdown reached zero
	EventResolved                      // Winner chosen
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventVotingOpened:
		return "voting_opened"
	case EventCountdown:
		return "countdown"
	case EventVotingClosed:
		return "voting_closed"
	case EventResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Event represents a round transition.
type Event struct {
	Type          EventType
	RoundID       string
	TimeRemaining int
	WinnerIndex   int
}

// Machine owns the current round.
type Machine struct {
	config Config
	rng    *rand.Rand
	now    func() time.Time

	current     *round.Round
	lastElapsed int
	loading     string // Track ID with an outstanding load
}

// NewMachine creates a new round machine.
// A nil rng or now falls back to a time-seeded source and time.Now.
func NewMachine(config Config, rng *rand.Rand, now func() time.Time) *Machine {
	def := DefaultConfig()
	if config.WindowSeconds <= 0 {
		config.WindowSeconds = def.WindowSeconds
	}
	if config.EndGuardSeconds <= 0 {
		config.EndGuardSeconds = def.EndGuardSeconds
	}
	if config.CandidateCount <= 0 {
		config.CandidateCount = def.CandidateCount
	}
	if config.Policy == "" {
		config.Policy = def.Policy
	}
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		seed := uint64(now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Machine{
		config: config,
		rng:    rng,
		now:    now,
	}
}

// Config returns the machine configuration.
func (m *Machine) Config() Config {
	return m.config
}

// Current returns the live round, or nil before the first seed.
func (m *Machine) Current() *round.Round {
	return m.current
}

// State returns the state of the current round.
func (m *Machine) State() round.State {
	if m.current == nil {
		return round.StateAwaitingSeed
	}
	return m.current.State
}

// Snapshot returns a copy of the current round. ok is false before the first seed.
func (m *Machine) Snapshot() (round.Round, bool) {
	if m.current == nil {
		return round.Round{State: round.StateAwaitingSeed, WinnerIndex: -1}, false
	}
	return m.current.Clone(), true
}

// Start begins a new round for seed, superseding the previous one.
func (m *Machine) Start(seed track.Track) *round.Round {
	m.current = round.New(seed, m.now())
	m.lastElapsed = 0
	zlog.Info().Msgf("round started: round_id=%s, seed=%s, duration=%ds",
		m.current.ID, seed.ID, seed.Seconds())
	return m.current
}

// SetCandidates installs candidates for seedID.
// Results for a superseded seed, or arriving after voting triggered, are ignored.
func (m *Machine) SetCandidates(seedID string, tracks []track.Track) bool {
	r := m.current
	if r == nil || r.Seed.ID != seedID {
		zlog.Debug().Msgf("stale candidates ignored: seed=%s", seedID)
		return false
	}
	if r.State != round.StatePlaying || r.VotingTriggered {
		zlog.Debug().Msgf("candidates ignored: round_id=%s, state=%s", r.ID, r.State)
		return false
	}

	filtered := track.Dedupe(tracks, r.Seed.ID)
	if len(filtered) > m.config.CandidateCount {
		filtered = filtered[:m.config.CandidateCount]
	}

	r.Candidates = filtered
	r.VoteCounts = make([]int, len(filtered))
	zlog.Info().Msgf("candidates set: round_id=%s, count=%d", r.ID, len(filtered))
	return true
}

// Tick advances the round to elapsed whole seconds of the seed track.
func (m *Machine) Tick(elapsed int) []Event {
	r := m.current
	if r == nil {
		return nil
	}

	advanced := elapsed > m.lastElapsed
	if advanced {
		m.lastElapsed = elapsed
	}

	var events []Event

	if !r.VotingTriggered && m.canOpen(r, elapsed) {
		r.VotingTriggered = true
		r.TimeRemaining = m.config.WindowSeconds
		if r.State == round.StatePlaying {
			r.State = round.StateVotingOpen
		}
		zlog.Info().Msgf("voting opened: round_id=%s, elapsed=%d, window=%d",
			r.ID, elapsed, r.TimeRemaining)
		return append(events, Event{Type: EventVotingOpened, RoundID: r.ID, TimeRemaining: r.TimeRemaining, WinnerIndex: r.WinnerIndex})
	}

	if !r.WindowOpen() || !advanced {
		return events
	}

	r.TimeRemaining--
	events = append(events, Event{Type: EventCountdown, RoundID: r.ID, TimeRemaining: r.TimeRemaining, WinnerIndex: r.WinnerIndex})
	if r.TimeRemaining > 0 {
		return events
	}

	events = append(events, Event{Type: EventVotingClosed, RoundID: r.ID, WinnerIndex: r.WinnerIndex})
	if !r.HasWinner() {
		idx := round.Resolve(r.VoteCounts, m.rng)
		if r.SetWinner(idx, round.ResolvedByCountdown) {
			zlog.Info().Msgf("round resolved by countdown: round_id=%s, index=%d, track=%s, votes=%v",
				r.ID, idx, r.Winner.ID, r.VoteCounts)
			events = append(events, Event{Type: EventResolved, RoundID: r.ID, WinnerIndex: idx})
		}
	}
	return events
}

func (m *Machine) canOpen(r *round.Round, elapsed int) bool {
	d := r.Seed.Seconds()
	return elapsed >= d/2 &&
		d-elapsed > m.config.EndGuardSeconds &&
		len(r.Candidates) >= m.config.CandidateCount
}

// CastVote applies a vote from voterID for the candidate at index.
func (m *Machine) CastVote(voterID string, index int) VoteResult {
	r := m.current
	if r == nil {
		return VoteResult{Reason: ReasonNoRound, Index: index}
	}

	result := VoteResult{RoundID: r.ID, Index: index}
	switch {
	case !r.WindowOpen():
		result.Reason = ReasonNotOpen
		return result
	case hasVoted(r, voterID):
		result.Reason = ReasonDuplicate
		return result
	case index < 0 || index >= len(r.Candidates):
		result.Reason = ReasonOutOfRange
		return result
	}

	r.VoteCounts[index]++
	r.Voters[voterID] = index
	result.Accepted = true
	result.Track = r.Candidates[index]

	if m.config.Policy == PolicyFirstVote && r.SetWinner(index, round.ResolvedByVote) {
		result.Resolved = true
		zlog.Info().Msgf("round resolved by vote: round_id=%s, voter=%s, index=%d, track=%s",
			r.ID, voterID, index, r.Winner.ID)
	}
	return result
}

func hasVoted(r *round.Round, voterID string) bool {
	_, ok := r.Voters[voterID]
	return ok
}

// Complete returns the next seed when the current track finishes.
// Without a winner it resolves from any votes cast, then falls back to the
// first candidate, then to replaying the seed.
func (m *Machine) Complete() (track.Track, bool) {
	r := m.current
	if r == nil {
		return track.Track{}, false
	}

	if r.HasWinner() {
		return *r.Winner, true
	}

	if r.VotingTriggered && r.TotalVotes() > 0 {
		idx := round.Resolve(r.VoteCounts, m.rng)
		r.SetWinner(idx, round.ResolvedByVote)
		zlog.Info().Msgf("round resolved by tally on early end: round_id=%s, index=%d, track=%s, votes=%v",
			r.ID, idx, r.Winner.ID, r.VoteCounts)
		return *r.Winner, true
	}

	if len(r.Candidates) > 0 {
		r.SetWinner(0, round.ResolvedByFallback)
		zlog.Info().Msgf("round resolved by fallback: round_id=%s, track=%s", r.ID, r.Winner.ID)
		return *r.Winner, true
	}

	zlog.Warn().Msgf("no candidates on completion, replaying seed: round_id=%s, seed=%s", r.ID, r.Seed.ID)
	return r.Seed, true
}

// BeginLoad marks trackID as loading. It returns false if that track is already loading.
func (m *Machine) BeginLoad(trackID string) bool {
	if m.loading != "" && m.loading == trackID {
		zlog.Warn().Msgf("duplicate load suppressed: track=%s", trackID)
		return false
	}
	m.loading = trackID
	return true
}

// EndLoad clears the in-flight load for trackID.
// A failed load keeps the round in Playing; the track simply does not progress.
func (m *Machine) EndLoad(trackID string, err error) {
	if m.loading == trackID {
		m.loading = ""
	}
	if err != nil {
		zlog.Error().Err(err).Msgf("seed load failed: track=%s", trackID)
	}
}

// Loading returns the track ID of the outstanding load, if any.
func (m *Machine) Loading() string {
	return m.loading
}
