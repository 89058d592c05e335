package tally

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"
)

const writeTimeout = 5 * time.Second

// Job is one accepted vote to persist.
type Job struct {
	RoundID string
	VoterID string
	TrackID string
}

// Mirror writes accepted votes to a Store on background workers.
// The round state machine stays authoritative; store failures are logged only.
type Mirror struct {
	store Store
	jobs  chan Job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	dropped atomic.Int64
}

// NewMirror starts workers draining a queue of queueSize jobs.
func NewMirror(store Store, workers, queueSize int) *Mirror {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	m := &Mirror{store: store, jobs: make(chan Job, queueSize)}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for job := range m.jobs {
				m.process(job)
			}
		}()
	}
	return m
}

// Submit queues a job without blocking. It returns false when the job
// was dropped because the queue is full or the mirror is closed.
func (m *Mirror) Submit(job Job) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.dropped.Add(1)
		return false
	}

	select {
	case m.jobs <- job:
		return true
	default:
		m.dropped.Add(1)
		zlog.Warn().Msgf("tally mirror: queue full, dropping vote: round_id=%s voter_id=%s", job.RoundID, job.VoterID)
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()

	m.wg.Wait()
}

// Stats returns how many jobs were written and dropped.
func (m *Mirror) Stats() (written, dropped int64) {
	return m.written.Load(), m.dropped.Load()
}

func (m *Mirror) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := m.store.RecordVote(ctx, job.RoundID, job.VoterID, job.TrackID)
	if err != nil {
		zlog.Warn().Msgf("tally mirror: write failed: round_id=%s voter_id=%s error=%v", job.RoundID, job.VoterID, err)
		return
	}
	m.written.Add(1)
	if !res.Accepted {
		// The machine already deduplicated; a store-side duplicate means a replayed job.
		zlog.Debug().Msgf("tally mirror: duplicate ignored by store: round_id=%s voter_id=%s", job.RoundID, job.VoterID)
	}
}
