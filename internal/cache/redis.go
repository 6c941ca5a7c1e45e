package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "semcache:"

// redisBackend stores entries as JSON blobs under semcache:<model>:<key>,
// delegating TTL enforcement to Redis itself.
type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &redisBackend{client: client}, nil
}

func redisKey(model, key string) string {
	return redisKeyPrefix + model + ":" + key
}

func (b *redisBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	// Exact-match keys are namespaced per model; scan the narrow suffix.
	iter := b.client.Scan(ctx, 0, redisKeyPrefix+"*:"+key, 10).Iterator()
	for iter.Next(ctx) {
		data, err := b.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Entry{}, false, err
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return Entry{}, false, err
		}
		return entry, true, nil
	}
	if err := iter.Err(); err != nil {
		return Entry{}, false, err
	}
	return Entry{}, false, nil
}

func (b *redisBackend) Set(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	return b.client.Set(ctx, redisKey(entry.Model, entry.Key), data, ttl).Err()
}

func (b *redisBackend) Entries(ctx context.Context, model string) ([]Entry, error) {
	var out []Entry
	iter := b.client.Scan(ctx, 0, redisKey(model, "*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := b.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired between scan and get.
			continue
		}
		if err != nil {
			return nil, err
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	iter := b.client.Scan(ctx, 0, redisKeyPrefix+"*:"+key, 10).Iterator()
	for iter.Next(ctx) {
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (b *redisBackend) Close() error { return b.client.Close() }
