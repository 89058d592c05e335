// Package redis provides a Redis-backed vote tally store.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	goredis "github.com/redis/go-redis/v9"

	"github.com/osa030/djvote/internal/domain/vote"
)

// Key layout:
//
//	<prefix>:round:<id>:voters  Hash: voterID -> trackID
//	<prefix>:round:<id>:counts  Hash: trackID -> votes
//	<prefix>:rounds             Sorted set: roundID scored by first vote time

// recordScript dedups and counts in one round trip.
// KEYS: voters, counts, rounds. ARGV: voter, track, ttl seconds, now, round id.
var recordScript = goredis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return {0, redis.call('HLEN', KEYS[1])}
end
redis.call('HINCRBY', KEYS[2], ARGV[2], 1)
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[3])
redis.call('ZADD', KEYS[3], 'NX', ARGV[4], ARGV[5])
return {1, redis.call('HLEN', KEYS[1])}
`)

// Config represents Redis store settings.
type Config struct {
	Addr     string `mapstructure:"addr" default:"localhost:6379" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0,lte=15"`
	Prefix   string `mapstructure:"prefix" default:"djvote" validate:"required"`
	TTLHours int    `mapstructure:"ttl_hours" default:"24" validate:"gte=1"`
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

// Store keeps votes in Redis hashes that expire after the configured TTL.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg Config) *Store {
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "djvote"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *Store) votersKey(roundID string) string {
	return fmt.Sprintf("%s:round:%s:voters", s.prefix, roundID)
}

func (s *Store) countsKey(roundID string) string {
	return fmt.Sprintf("%s:round:%s:counts", s.prefix, roundID)
}

func (s *Store) roundsKey() string {
	return s.prefix + ":rounds"
}

// RecordVote counts the vote unless the voter already voted in the round.
func (s *Store) RecordVote(ctx context.Context, roundID, voterID, trackID string) (vote.Result, error) {
	v := vote.Vote{RoundID: roundID, VoterID: voterID, TrackID: trackID}
	if err := v.Validate(); err != nil {
		return vote.Result{}, err
	}

	keys := []string{
		s.votersKey(roundID),
		s.countsKey(roundID),
		s.roundsKey(),
	}
	reply, err := recordScript.Run(ctx, s.client, keys,
		voterID, trackID, int64(s.ttl/time.Second), s.now().UnixMilli(), roundID,
	).Int64Slice()
	if err != nil {
		return vote.Result{}, errors.Wrap(err, "failed to record vote")
	}
	if len(reply) != 2 {
		return vote.Result{}, errors.Newf("unexpected script reply length %d", len(reply))
	}
	return vote.Result{Accepted: reply[0] == 1, TotalVotes: int(reply[1])}, nil
}

// GetVotes returns vote counts by track for the round.
func (s *Store) GetVotes(ctx context.Context, roundID string) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, s.countsKey(roundID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get votes")
	}

	result := make(map[string]int, len(raw))
	for trackID, n := range raw {
		count, err := strconv.Atoi(n)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt count for track %s", trackID)
		}
		result[trackID] = count
	}
	return result, nil
}

// Prune deletes rounds whose first vote is older than olderThan.
// Expired rounds are also dropped by Redis itself after the TTL.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	index := s.roundsKey()
	ids, err := s.client.ZRangeByScore(ctx, index, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list old rounds")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		members := make([]any, len(ids))
		for i, id := range ids {
			pipe.Del(ctx, s.votersKey(id), s.countsKey(id))
			members[i] = id
		}
		pipe.ZRem(ctx, index, members...)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune rounds")
	}
	return len(ids), nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
