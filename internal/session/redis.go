package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions under session:<caller> with a TTL so abandoned
// flows expire on their own.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func key(callerID string) string { return "session:" + callerID }

func (r *RedisStore) Create(ctx context.Context, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := r.rdb.SetNX(ctx, key(s.CallerID), b, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *RedisStore) Take(ctx context.Context, callerID string) (Session, error) {
	b, err := r.rdb.GetDel(ctx, key(callerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("take session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Discard(ctx context.Context, callerID string) error {
	if err := r.rdb.Del(ctx, key(callerID)).Err(); err != nil {
		return fmt.Errorf("discard session: %w", err)
	}
	return nil
}
