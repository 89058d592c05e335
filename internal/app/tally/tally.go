// Package tally persists accepted votes outside the round state machine.
package tally

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/domain/vote"
	"github.com/osa030/djvote/internal/infra/config"
	"github.com/osa030/djvote/internal/infra/tally/memory"
	"github.com/osa030/djvote/internal/infra/tally/redis"
	"github.com/osa030/djvote/internal/infra/tally/sqlite"
)

// Result reports whether a vote was counted and the round's total after it.
type Result = vote.Result

// Store is the vote persistence contract.
// RecordVote counts at most one vote per (round, voter); a repeat is
// reported as not accepted rather than as an error.
type Store interface {
	RecordVote(ctx context.Context, roundID, voterID, trackID string) (Result, error)
	GetVotes(ctx context.Context, roundID string) (map[string]int, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}

// New creates the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.TallyConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		zlog.Info().Msg("tally store: backend=memory")
		return memory.New(), nil

	case "redis":
		rcfg, err := redis.DecodeConfig(cfg.Settings)
		if err != nil {
			return nil, errors.Wrap(err, "invalid redis settings")
		}
		store, err := redis.New(ctx, rcfg)
		if err != nil {
			return nil, err
		}
		zlog.Info().Msgf("tally store: backend=redis addr=%s db=%d prefix=%s", rcfg.Addr, rcfg.DB, rcfg.Prefix)
		return store, nil

	case "sqlite":
		scfg, err := sqlite.DecodeConfig(cfg.Settings)
		if err != nil {
			return nil, errors.Wrap(err, "invalid sqlite settings")
		}
		store, err := sqlite.Open(scfg)
		if err != nil {
			return nil, err
		}
		zlog.Info().Msgf("tally store: backend=sqlite path=%s", scfg.Path)
		return store, nil

	default:
		return nil, errors.Newf("unsupported tally backend: %s", cfg.Backend)
	}
}

// RunPruner deletes rounds older than retention every interval until ctx is done.
func RunPruner(ctx context.Context, store Store, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune(ctx, store, time.Now().Add(-retention))
		}
	}
}

func prune(ctx context.Context, store Store, cutoff time.Time) {
	n, err := store.Prune(ctx, cutoff)
	if err != nil {
		zlog.Warn().Msgf("tally prune failed: error=%v", err)
		return
	}
	if n > 0 {
		zlog.Info().Msgf("tally pruned rounds: count=%d cutoff=%s", n, cutoff.Format(time.RFC3339))
	}
}
