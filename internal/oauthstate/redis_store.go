package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares state entries between replicas so a callback may land on
// any instance.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "oauth_state"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(state string) string {
	return s.prefix + ":" + state
}

func (s *RedisStore) Set(ctx context.Context, state string, entry Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode state entry: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(state), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store state entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, state string) (Entry, bool, error) {
	data, err := s.redis.Get(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("load state entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode state entry: %w", err)
	}
	return entry, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, state string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(state)).Result()
	if err != nil {
		return false, fmt.Errorf("delete state entry: %w", err)
	}
	return n == 1, nil
}

// Sweep is a no-op: redis expires keys on its own.
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
