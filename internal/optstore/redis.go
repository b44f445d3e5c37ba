package optstore

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "usi:engine:"

// RedisStore keeps each engine's options in a hash.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(engineID string) string {
	return s.prefix + strings.TrimSpace(engineID) + ":options"
}

// EngineOptions reports false for a missing or empty hash.
func (s *RedisStore) EngineOptions(ctx context.Context, engineID string) (map[string]string, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(engineID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	return m, true, nil
}

func (s *RedisStore) SaveEngineOptions(ctx context.Context, engineID string, opts map[string]string) error {
	key := s.key(engineID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(opts) > 0 {
			p.HSet(ctx, key, opts)
		}
		return nil
	})
	return err
}
