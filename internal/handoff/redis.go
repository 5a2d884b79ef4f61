package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "token_engine:handoff:"

// RedisRegistry shares entries between gateway replicas. Keys expire with the
// ledger validity window so abandoned handoffs need no cleanup.
type RedisRegistry struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisRegistry wraps a redis client.
func NewRedisRegistry(client redis.Cmdable) *RedisRegistry {
	return &RedisRegistry{client: client, now: time.Now}
}

func entryKey(txID string) string { return redisKeyPrefix + txID }
func claimKey(txID string) string { return redisKeyPrefix + txID + ":claimed" }

func (r *RedisRegistry) Put(ctx context.Context, entry Entry) error {
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("handoff entry %s already expired", entry.TransactionID)
	}
	entry.Consumed = false
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal handoff entry: %w", err)
	}
	if err := r.client.Set(ctx, entryKey(entry.TransactionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store handoff entry: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, txID string) (Entry, error) {
	data, err := r.client.Get(ctx, entryKey(txID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load handoff entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode handoff entry: %w", err)
	}
	if entry.Expired(r.now()) {
		return Entry{}, ErrNotFound
	}

	claimed, err := r.client.Exists(ctx, claimKey(txID)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("load handoff claim: %w", err)
	}
	entry.Consumed = claimed > 0
	return entry, nil
}

func (r *RedisRegistry) Claim(ctx context.Context, txID string) error {
	entry, err := r.Get(ctx, txID)
	if err != nil {
		return err
	}
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return ErrNotFound
	}
	ok, err := r.client.SetNX(ctx, claimKey(txID), r.now().Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("claim handoff entry: %w", err)
	}
	if !ok {
		return ErrConsumed
	}
	return nil
}

func (r *RedisRegistry) Release(ctx context.Context, txID string) error {
	if err := r.client.Del(ctx, claimKey(txID)).Err(); err != nil {
		return fmt.Errorf("release handoff claim: %w", err)
	}
	return nil
}
