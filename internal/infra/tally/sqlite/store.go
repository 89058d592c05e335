// Package sqlite provides a SQLite-backed vote tally store.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	_ "modernc.org/sqlite"

	"github.com/osa030/djvote/internal/domain/vote"
)

const schema = `
CREATE TABLE IF NOT EXISTS votes (
	round_id TEXT    NOT NULL,
	voter_id TEXT    NOT NULL,
	track_id TEXT    NOT NULL,
	cast_at  INTEGER NOT NULL,
	PRIMARY KEY (round_id, voter_id)
);
CREATE INDEX IF NOT EXISTS votes_round_track ON votes (round_id, track_id);
`

// Config represents SQLite store settings.
type Config struct {
	Path string `mapstructure:"path" default:"djvote.db" validate:"required"`
}

// DecodeConfig decodes, defaults, and validates settings.
func DecodeConfig(settings map[string]any) (Config, error) {
	var cfg Config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, "validation failed")
	}
	return cfg, nil
}

// Store keeps votes in a SQLite table keyed by (round, voter).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at cfg.Path. ":memory:" keeps it in memory.
func Open(cfg Config) (*Store, error) {
	memory := cfg.Path == ":memory:"
	if !memory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create database directory")
			}
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One writer at a time; also keeps :memory: a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create votes table")
	}

	return &Store{db: db, now: time.Now}, nil
}

// RecordVote counts the vote unless the voter already voted in the round.
func (s *Store) RecordVote(ctx context.Context, roundID, voterID, trackID string) (vote.Result, error) {
	v := vote.Vote{RoundID: roundID, VoterID: voterID, TrackID: trackID, CastAt: s.now()}
	if err := v.Validate(); err != nil {
		return vote.Result{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vote.Result{}, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO votes (round_id, voter_id, track_id, cast_at) VALUES (?, ?, ?, ?)`,
		v.RoundID, v.VoterID, v.TrackID, v.CastAt.UnixMilli(),
	)
	if err != nil {
		return vote.Result{}, errors.Wrap(err, "failed to insert vote")
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return vote.Result{}, errors.Wrap(err, "failed to read insert result")
	}

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE round_id = ?`, roundID).Scan(&total); err != nil {
		return vote.Result{}, errors.Wrap(err, "failed to count votes")
	}
	if err := tx.Commit(); err != nil {
		return vote.Result{}, errors.Wrap(err, "failed to commit vote")
	}

	return vote.Result{Accepted: inserted == 1, TotalVotes: total}, nil
}

// GetVotes returns vote counts by track for the round.
func (s *Store) GetVotes(ctx context.Context, roundID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT track_id, COUNT(*) FROM votes WHERE round_id = ? GROUP BY track_id`, roundID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query votes")
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var trackID string
		var count int
		if err := rows.Scan(&trackID, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan votes")
		}
		result[trackID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read votes")
	}
	return result, nil
}

// Prune deletes rounds whose first vote is older than olderThan.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	const oldRounds = `SELECT round_id FROM votes GROUP BY round_id HAVING MIN(cast_at) < ?`
	cutoff := olderThan.UnixMilli()

	var pruned int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM (`+oldRounds+`)`, cutoff).Scan(&pruned); err != nil {
		return 0, errors.Wrap(err, "failed to count old rounds")
	}
	if pruned == 0 {
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE round_id IN (`+oldRounds+`)`, cutoff); err != nil {
		return 0, errors.Wrap(err, "failed to prune rounds")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit prune")
	}
	return pruned, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
