package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	historyKeyPrefix = "litreview:history:"
	defaultTTL       = 24 * time.Hour
)

// RedisStore persists conversations in Redis, one list per session, with a
// TTL refreshed on every access.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. A non-positive ttl selects the
// 24h default.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return historyKeyPrefix + sessionID
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msg Message) error {
	val, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := s.key(sessionID)
	if err := s.client.RPush(ctx, key, val).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

// Load implements Store. An unknown session yields an empty history.
func (s *RedisStore) Load(ctx context.Context, sessionID string) ([]Message, error) {
	key := s.key(sessionID)
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			// Skip entries written by an incompatible version.
			continue
		}
		msgs = append(msgs, m)
	}

	// Refresh TTL on read; a failure here is not fatal.
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return msgs, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
