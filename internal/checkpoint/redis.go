package checkpoint

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps the snapshot under a single key. SET replaces the value
// in one step so a reader never sees a partial snapshot.
type RedisStore struct {
	rdb goredis.UniversalClient
	key string
}

func NewRedisStore(rdb goredis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = "ddigraph:ingest:checkpoint"
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("checkpoint: redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: redis get %s: %w", s.key, err)
	}
	return decode(raw)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("checkpoint: redis del %s: %w", s.key, err)
	}
	return nil
}
