package round

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/osa030/djvote/internal/domain/round"
	"github.com/osa030/djvote/internal/domain/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(policy Policy) *Machine {
	cfg := DefaultConfig()
	cfg.Policy = policy
	clock := time.Unix(1700000000, 0)
	return NewMachine(cfg, rand.New(rand.NewPCG(1, 1)), func() time.Time { return clock })
}

func seedTrack(id string, seconds int) track.Track {
	return track.Track{ID: id, URI: "spotify:track:" + id, Duration: time.Duration(seconds) * time.Second}
}

func candidates(ids ...string) []track.Track {
	tracks := make([]track.Track, len(ids))
	for i, id := range ids {
		tracks[i] = seedTrack(id, 200)
	}
	return tracks
}

// tickTo drives the machine one second at a time up to and including elapsed.
func tickTo(m *Machine, from, to int) []Event {
	var events []Event
	for s := from; s <= to; s++ {
		events = append(events, m.Tick(s)...)
	}
	return events
}

func hasEvent(events []Event, typ EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestMachine_AwaitingSeed(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)

	assert.Equal(t, round.StateAwaitingSeed, m.State())
	assert.Nil(t, m.Tick(10))
	assert.Equal(t, ReasonNoRound, m.CastVote("v1", 0).Reason)

	_, ok := m.Complete()
	assert.False(t, ok)
}

func TestMachine_SetCandidates(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))

	t.Run("stale seed is ignored", func(t *testing.T) {
		assert.False(t, m.SetCandidates("other", candidates("a", "b", "c", "d")))
		assert.Empty(t, m.Current().Candidates)
	})

	t.Run("seed and duplicates are removed and capped at four", func(t *testing.T) {
		tracks := candidates("a", "seed", "b", "a", "c", "d", "e")
		require.True(t, m.SetCandidates("seed", tracks))

		r := m.Current()
		assert.Equal(t, []string{"a", "b", "c", "d"}, track.IDs(r.Candidates))
		assert.Equal(t, []int{0, 0, 0, 0}, r.VoteCounts)
	})

	t.Run("ignored once voting triggered", func(t *testing.T) {
		tickTo(m, 1, 90)
		require.True(t, m.Current().VotingTriggered)

		assert.False(t, m.SetCandidates("seed", candidates("w", "x", "y", "z")))
		assert.Equal(t, "a", m.Current().Candidates[0].ID)
	})
}

func TestMachine_VotingWindowPrecondition(t *testing.T) {
	tests := []struct {
		name       string
		duration   int
		candidates int
		opensAt    int // -1 when voting never opens
	}{
		{name: "180s opens at half", duration: 180, candidates: 4, opensAt: 90},
		{name: "40s opens at 20", duration: 40, candidates: 4, opensAt: 20},
		{name: "41s opens at 20", duration: 41, candidates: 4, opensAt: 20},
		{name: "22s opens at 11", duration: 22, candidates: 4, opensAt: 11},
		{name: "15s never opens", duration: 15, candidates: 4, opensAt: -1},
		{name: "20s never opens", duration: 20, candidates: 4, opensAt: -1},
		{name: "fewer than four candidates never opens", duration: 180, candidates: 3, opensAt: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(PolicyFirstVote)
			m.Start(seedTrack("seed", tt.duration))
			ids := []string{"a", "b", "c", "d"}[:tt.candidates]
			m.SetCandidates("seed", candidates(ids...))

			openedAt := -1
			opens := 0
			for s := 0; s <= tt.duration; s++ {
				for _, e := range m.Tick(s) {
					if e.Type == EventVotingOpened {
						opens++
						openedAt = s
					}
				}
			}

			assert.Equal(t, tt.opensAt, openedAt)
			if tt.opensAt >= 0 {
				assert.Equal(t, 1, opens, "voting must open exactly once")
				assert.GreaterOrEqual(t, openedAt, tt.duration/2)
				assert.Greater(t, tt.duration-openedAt, 10)
			}
		})
	}
}

func TestMachine_VotingNeverReopensOnRepeatedTicks(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))

	tickTo(m, 0, 120)
	events := m.Tick(90)
	events = append(events, m.Tick(100)...)

	assert.False(t, hasEvent(events, EventVotingOpened))
}

func TestMachine_VoteDedup(t *testing.T) {
	m := newTestMachine(PolicyPlurality)
	m.Start(seedTrack("seed", 180))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))
	tickTo(m, 0, 90)

	accepted := 0
	for i := 0; i < 10; i++ {
		res := m.CastVote("same-voter", i%4)
		if res.Accepted {
			accepted++
		} else {
			assert.Equal(t, ReasonDuplicate, res.Reason)
		}
	}

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, m.Current().TotalVotes())
}

func TestMachine_VoteCountInvariant(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))
	tickTo(m, 0, 90)

	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 200; i++ {
		voter := fmt.Sprintf("voter-%d", rng.IntN(20))
		m.CastVote(voter, rng.IntN(6)-1)

		r := m.Current()
		require.Len(t, r.VoteCounts, len(r.Candidates))
		require.LessOrEqual(t, r.TotalVotes(), len(r.Voters))
	}
}

func TestMachine_VoteRejections(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))

	assert.Equal(t, ReasonNotOpen, m.CastVote("v1", 0).Reason, "before window")

	tickTo(m, 0, 90)
	assert.Equal(t, ReasonOutOfRange, m.CastVote("v1", 4).Reason)
	assert.Equal(t, ReasonOutOfRange, m.CastVote("v1", -1).Reason)

	tickTo(m, 91, 105)
	assert.Equal(t, 0, m.Current().TimeRemaining)
	assert.Equal(t, ReasonNotOpen, m.CastVote("v1", 0).Reason, "after window")
}

func TestMachine_FirstVoteWins(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))
	tickTo(m, 0, 92)

	first := m.CastVote("v1", 1)
	require.True(t, first.Accepted)
	assert.True(t, first.Resolved)

	for i := 2; i < 8; i++ {
		res := m.CastVote(fmt.Sprintf("v%d", i), 3)
		assert.True(t, res.Accepted, "later votes are tallied")
		assert.False(t, res.Resolved)
	}
	events := tickTo(m, 93, 110)

	r := m.Current()
	assert.Equal(t, []int{0, 1, 0, 6}, r.VoteCounts)
	require.NotNil(t, r.Winner)
	assert.Equal(t, "b", r.Winner.ID)
	assert.Equal(t, round.ResolvedByVote, r.ResolvedBy)
	assert.Equal(t, round.StateResolved, r.State)
	assert.False(t, hasEvent(events, EventResolved), "countdown must not re-resolve")
}

func TestMachine_CountdownResolution(t *testing.T) {
	tests := []struct {
		name    string
		votes   map[string]int
		allowed []int
	}{
		{name: "unique max", votes: map[string]int{"v1": 2, "v2": 2, "v3": 0}, allowed: []int{2}},
		{name: "tie among tied only", votes: map[string]int{"v1": 0, "v2": 0, "v3": 0, "v4": 1, "v5": 1, "v6": 1, "v7": 2}, allowed: []int{0, 1}},
		{name: "no votes falls back to first", votes: nil, allowed: []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for trial := 0; trial < 20; trial++ {
				m := NewMachine(Config{Policy: PolicyPlurality}, rand.New(rand.NewPCG(uint64(trial), 9)), nil)
				m.Start(seedTrack("seed", 180))
				m.SetCandidates("seed", candidates("a", "b", "c", "d"))
				tickTo(m, 0, 90)

				for voter, idx := range tt.votes {
					require.True(t, m.CastVote(voter, idx).Accepted)
				}
				require.Nil(t, m.Current().Winner, "plurality never resolves on a vote")

				events := tickTo(m, 91, 105)
				require.True(t, hasEvent(events, EventVotingClosed))
				require.True(t, hasEvent(events, EventResolved))

				r := m.Current()
				assert.Contains(t, tt.allowed, r.WinnerIndex)
				assert.Equal(t, round.ResolvedByCountdown, r.ResolvedBy)
			}
		})
	}
}

func TestMachine_CountdownPausesWhenElapsedStalls(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))
	tickTo(m, 0, 95)
	require.Equal(t, 10, m.Current().TimeRemaining)

	for i := 0; i < 5; i++ {
		m.Tick(95)
	}

	assert.Equal(t, 10, m.Current().TimeRemaining)
}

func TestMachine_CompleteWithoutWinner(t *testing.T) {
	t.Run("falls back to first candidate", func(t *testing.T) {
		m := newTestMachine(PolicyFirstVote)
		m.Start(seedTrack("seed", 15))
		m.SetCandidates("seed", candidates("a", "b", "c", "d"))
		tickTo(m, 0, 15)

		next, ok := m.Complete()
		require.True(t, ok)
		assert.Equal(t, "a", next.ID)
		assert.Equal(t, round.ResolvedByFallback, m.Current().ResolvedBy)
	})

	t.Run("open window with votes uses the tally", func(t *testing.T) {
		m := newTestMachine(PolicyPlurality)
		m.Start(seedTrack("seed", 180))
		m.SetCandidates("seed", candidates("a", "b", "c", "d"))
		tickTo(m, 0, 92)
		require.True(t, m.Current().WindowOpen())

		require.True(t, m.CastVote("v1", 2).Accepted)
		require.True(t, m.CastVote("v2", 2).Accepted)
		require.True(t, m.CastVote("v3", 1).Accepted)

		next, ok := m.Complete()
		require.True(t, ok)
		assert.Equal(t, "c", next.ID)
		assert.Equal(t, 2, m.Current().WinnerIndex)
		assert.Equal(t, round.ResolvedByVote, m.Current().ResolvedBy)
	})

	t.Run("open window without votes falls back to first candidate", func(t *testing.T) {
		m := newTestMachine(PolicyPlurality)
		m.Start(seedTrack("seed", 180))
		m.SetCandidates("seed", candidates("a", "b", "c", "d"))
		tickTo(m, 0, 92)

		next, ok := m.Complete()
		require.True(t, ok)
		assert.Equal(t, "a", next.ID)
		assert.Equal(t, round.ResolvedByFallback, m.Current().ResolvedBy)
	})

	t.Run("replays seed without candidates", func(t *testing.T) {
		m := newTestMachine(PolicyFirstVote)
		m.Start(seedTrack("seed", 15))

		next, ok := m.Complete()
		require.True(t, ok)
		assert.Equal(t, "seed", next.ID)
	})
}

func TestMachine_LoadGuard(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)

	assert.True(t, m.BeginLoad("a"))
	assert.False(t, m.BeginLoad("a"), "second load of the same track is refused")
	assert.Equal(t, "a", m.Loading())

	m.EndLoad("a", nil)
	assert.Empty(t, m.Loading())
	assert.True(t, m.BeginLoad("a"))
}

func TestMachine_FailedLoadStaysPlaying(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))
	require.True(t, m.BeginLoad("seed"))

	m.EndLoad("seed", assert.AnError)

	assert.Equal(t, round.StatePlaying, m.State())
	assert.Empty(t, m.Loading())
}

func TestMachine_RoundTransitionCleanup(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))
	tickTo(m, 0, 90)
	m.CastVote("v1", 2)
	m.CastVote("v2", 1)
	tickTo(m, 91, 180)

	next, ok := m.Complete()
	require.True(t, ok)
	prevID := m.Current().ID

	m.Start(next)
	r := m.Current()
	assert.NotEqual(t, prevID, r.ID)
	assert.Empty(t, r.Candidates)
	assert.Empty(t, r.Voters)
	assert.Nil(t, r.Winner)
	assert.False(t, r.VotingTriggered)

	// New candidates include the new seed, which must be dropped.
	m.SetCandidates("c", candidates("c", "e", "f", "g", "h"))
	assert.NotContains(t, track.IDs(r.Candidates), "c")
	assert.Equal(t, make([]int, len(r.Candidates)), r.VoteCounts)
}

func TestMachine_EndToEnd180(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 180))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))

	tickTo(m, 0, 89)
	assert.Equal(t, round.StatePlaying, m.State())

	events := m.Tick(90)
	require.True(t, hasEvent(events, EventVotingOpened))
	assert.Equal(t, round.StateVotingOpen, m.State())
	assert.Equal(t, 15, m.Current().TimeRemaining)

	tickTo(m, 91, 95)
	res := m.CastVote("listener", 2)
	require.True(t, res.Accepted)
	assert.Equal(t, round.StateResolved, m.State())
	assert.Equal(t, "c", m.Current().Winner.ID)

	tickTo(m, 96, 180)
	next, ok := m.Complete()
	require.True(t, ok)
	assert.Equal(t, "c", next.ID)

	m.Start(next)
	assert.Equal(t, round.StatePlaying, m.State())
	assert.False(t, m.Current().VotingTriggered)
}

func TestMachine_EndToEnd40(t *testing.T) {
	m := newTestMachine(PolicyFirstVote)
	m.Start(seedTrack("seed", 40))
	m.SetCandidates("seed", candidates("a", "b", "c", "d"))

	tickTo(m, 0, 19)
	assert.Equal(t, round.StatePlaying, m.State())

	assert.True(t, hasEvent(m.Tick(20), EventVotingOpened))
	assert.Equal(t, 15, m.Current().TimeRemaining)

	tickTo(m, 21, 34)
	assert.Equal(t, 1, m.Current().TimeRemaining)

	events := m.Tick(35)
	assert.True(t, hasEvent(events, EventVotingClosed))
	assert.True(t, hasEvent(events, EventResolved))
	assert.Equal(t, 0, m.Current().WinnerIndex)
}
