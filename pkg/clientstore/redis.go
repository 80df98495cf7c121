package clientstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps each visitor's entries in one Redis hash whose TTL
// slides forward on every write.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend stores entries through client, which the caller owns and
// closes. It is usually the one shared with the rate limiter.
func NewRedisBackend(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookstore:client"
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

func (b *RedisBackend) Namespace(visitorID string) (Storage, error) {
	ns, err := normalizeNamespace(visitorID)
	if err != nil {
		return nil, err
	}
	return &redisStorage{backend: b, key: b.prefix + ":" + ns}, nil
}

type redisStorage struct {
	backend *RedisBackend
	key     string
}

func (s *redisStorage) Get(ctx context.Context, field string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	val, err := s.backend.client.HGet(ctx, s.key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *redisStorage) Set(ctx context.Context, field, value string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pipe := s.backend.client.TxPipeline()
	pipe.HSet(ctx, s.key, field, value)
	if s.backend.ttl > 0 {
		pipe.Expire(ctx, s.key, s.backend.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStorage) Delete(ctx context.Context, field string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.backend.client.HDel(ctx, s.key, field).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}
