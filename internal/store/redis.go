package store

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/examprep/examprep-cli/internal/model"
)

const (
	redisKeyPrefix = "examprep:checkpoint:"
	redisIndexKey  = "examprep:checkpoints"
)

// RedisStore implements CheckpointStore on a key-value store. Each checkpoint
// is one JSON value under examprep:checkpoint:<id>; a sorted set indexes ids
// by last update for listing.
type RedisStore struct {
	rdb *goredis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedis connects to addr and verifies the connection. A zero ttl keeps
// checkpoints until discarded.
func NewRedis(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	return NewRedisWithClient(rdb, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *goredis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Migrate(context.Context) error { return nil }

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) save(ctx context.Context, st *model.CheckpointState) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, redisKey(st.ID), data, s.ttl)
		pipe.ZAdd(ctx, redisIndexKey, goredis.Z{Score: float64(st.Timestamp.UnixNano()), Member: st.ID})
		return nil
	})
	return eris.Wrapf(err, "redis: save checkpoint %s", st.ID)
}

func (s *RedisStore) Initialize(ctx context.Context, subject string, totalUnits int) (string, error) {
	if err := validateTotal(totalUnits); err != nil {
		return "", err
	}
	now := s.now().UTC()
	id := NewCheckpointID(subject, now)
	if err := s.save(ctx, model.NewCheckpointState(id, subject, totalUnits, now)); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) RecordUnit(ctx context.Context, id string, unit int, analysis model.UnitAnalysis) error {
	st, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if st == nil {
		return eris.Wrapf(ErrNotFound, "redis: record unit %d in %s", unit, id)
	}
	if err := st.Record(unit, analysis, s.now().UTC()); err != nil {
		return err
	}
	return s.save(ctx, st)
}

func (s *RedisStore) Load(ctx context.Context, id string) (*model.CheckpointState, error) {
	data, err := s.rdb.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis: load checkpoint %s", id)
	}
	return decodeState(data)
}

func (s *RedisStore) Discard(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, redisKey(id))
		pipe.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	return eris.Wrapf(err, "redis: discard checkpoint %s", id)
}

// List walks the index newest first. Ids whose value has expired are pruned
// from the index.
func (s *RedisStore) List(ctx context.Context, limit int) ([]model.CheckpointSummary, error) {
	limit = clampLimit(limit)
	ids, err := s.rdb.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: list checkpoints")
	}

	var out []model.CheckpointSummary
	var stale []any
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		st, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if st == nil {
			stale = append(stale, id)
			continue
		}
		out = append(out, st.Summary())
	}
	if len(stale) > 0 {
		if err := s.rdb.ZRem(ctx, redisIndexKey, stale...).Err(); err != nil {
			return nil, eris.Wrap(err, "redis: prune index")
		}
	}
	return out, nil
}
