package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "psidbot:session:"

// RedisStore shares sessions between bot replicas. Each session is a JSON
// value with the session TTL as its expiry.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(chat string) string {
	return keyPrefix + chat
}

func (s *RedisStore) Get(ctx context.Context, chat string) (Session, error) {
	const op = "session.RedisStore.Get"

	data, err := s.rdb.Get(ctx, redisKey(chat)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("%s: decoding session: %w", op, err)
	}
	return sess, nil
}

func (s *RedisStore) Set(ctx context.Context, chat string, sess Session) error {
	const op = "session.RedisStore.Set"

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.rdb.Set(ctx, redisKey(chat), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, chat string) error {
	if err := s.rdb.Del(ctx, redisKey(chat)).Err(); err != nil {
		return fmt.Errorf("session.RedisStore.Delete: %w", err)
	}
	return nil
}

// Ping checks connectivity at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
