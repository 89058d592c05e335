// Package memory provides an in-process vote tally store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/osa030/djvote/internal/domain/vote"
)

type roundVotes struct {
	voters    map[string]string // voter -> track
	counts    map[string]int    // track -> votes
	createdAt time.Time
}

// Store keeps votes in memory. Contents are lost on restart.
type Store struct {
	mu     sync.RWMutex
	rounds map[string]*roundVotes
	now    func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty Store that stamps rounds with now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		rounds: make(map[string]*roundVotes),
		now:    now,
	}
}

// RecordVote counts the vote unless the voter already voted in the round.
func (s *Store) RecordVote(ctx context.Context, roundID, voterID, trackID string) (vote.Result, error) {
	v := vote.Vote{RoundID: roundID, VoterID: voterID, TrackID: trackID}
	if err := v.Validate(); err != nil {
		return vote.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundID]
	if !ok {
		r = &roundVotes{
			voters:    make(map[string]string),
			counts:    make(map[string]int),
			createdAt: s.now(),
		}
		s.rounds[roundID] = r
	}

	if _, voted := r.voters[voterID]; voted {
		return vote.Result{Accepted: false, TotalVotes: len(r.voters)}, nil
	}
	r.voters[voterID] = trackID
	r.counts[trackID]++
	return vote.Result{Accepted: true, TotalVotes: len(r.voters)}, nil
}

// GetVotes returns vote counts by track for the round.
// An unknown round yields an empty map.
func (s *Store) GetVotes(ctx context.Context, roundID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int)
	if r, ok := s.rounds[roundID]; ok {
		for trackID, n := range r.counts {
			result[trackID] = n
		}
	}
	return result, nil
}

// Prune drops rounds created before olderThan and returns how many were dropped.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, r := range s.rounds {
		if r.createdAt.Before(olderThan) {
			delete(s.rounds, id)
			pruned++
		}
	}
	return pruned, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
