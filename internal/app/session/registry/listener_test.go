package registry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerRegistry_Join(t *testing.T) {
	r := NewListenerRegistry()

	id1, err := r.Join("Alice", "browser-1")
	require.NoError(t, err)
	id2, err := r.Join("Bob", "")
	require.NoError(t, err)
	id3, err := r.Join("Alice (phone)", "browser-1")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, id1, id3)
	assert.Equal(t, 2, r.Count())

	s, err := r.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, "Alice (phone)", s.DisplayName)
}

func TestListenerRegistry_Join_NormalizesName(t *testing.T) {
	r := NewListenerRegistry()

	id, err := r.Join("   ", "")
	require.NoError(t, err)
	s, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "guest", s.DisplayName)

	id, err = r.Join(strings.Repeat("x", 100), "")
	require.NoError(t, err)
	s, err = r.Get(id)
	require.NoError(t, err)
	assert.Len(t, s.DisplayName, maxDisplayName)
}

func TestListenerRegistry_Validate(t *testing.T) {
	r := NewListenerRegistry()
	id, err := r.Join("Alice", "ext-1")
	require.NoError(t, err)

	assert.NoError(t, r.Validate(id))
	assert.ErrorIs(t, r.Validate("unknown"), ErrInvalidListener)

	require.NoError(t, r.Kick(id))
	assert.ErrorIs(t, r.Validate(id), ErrListenerKicked)
	assert.ErrorIs(t, r.Kick("unknown"), ErrInvalidListener)

	_, err = r.Join("Alice again", "ext-1")
	assert.ErrorIs(t, err, ErrListenerKicked)
}

func TestListenerRegistry_RecordVote(t *testing.T) {
	r := NewListenerRegistry()
	id, err := r.Join("Alice", "")
	require.NoError(t, err)

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.RecordVote(id, at)
	r.RecordVote("unknown", at)

	s, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalVotes)
	require.NotNil(t, s.LastVoteAt)
	assert.Equal(t, at, *s.LastVoteAt)
	assert.Len(t, r.All(), 1)
}
