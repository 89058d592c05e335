package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/djvote/internal/domain/vote"
)

func TestStore_RecordVote(t *testing.T) {
	ctx := context.Background()
	s := New()

	res, err := s.RecordVote(ctx, "r1", "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, vote.Result{Accepted: true, TotalVotes: 1}, res)

	res, err = s.RecordVote(ctx, "r1", "alice", "t2")
	require.NoError(t, err)
	assert.Equal(t, vote.Result{Accepted: false, TotalVotes: 1}, res)

	res, err = s.RecordVote(ctx, "r1", "bob", "t1")
	require.NoError(t, err)
	assert.Equal(t, vote.Result{Accepted: true, TotalVotes: 2}, res)

	res, err = s.RecordVote(ctx, "r2", "alice", "t3")
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	votes, err := s.GetVotes(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"t1": 2}, votes)

	votes, err = s.GetVotes(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, votes)
}

func TestStore_RecordVote_Invalid(t *testing.T) {
	s := New()
	_, err := s.RecordVote(context.Background(), "r1", "", "t1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, vote.ErrInvalid))
}

func TestStore_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.RecordVote(ctx, "r1", "alice", "t1")
			if err == nil && res.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	votes, _ := s.GetVotes(ctx, "r1")
	assert.Equal(t, 1, votes["t1"])
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return now })

	_, _ = s.RecordVote(ctx, "old", "alice", "t1")
	now = now.Add(2 * time.Hour)
	_, _ = s.RecordVote(ctx, "new", "alice", "t1")

	pruned, err := s.Prune(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	votes, _ := s.GetVotes(ctx, "old")
	assert.Empty(t, votes)
	votes, _ = s.GetVotes(ctx, "new")
	assert.Equal(t, 1, votes["t1"])
	assert.NoError(t, s.Close())
}
