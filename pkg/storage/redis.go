package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists a snapshot as a single Redis hash named
// "jobadvisor:<name>", one field per snapshot entry.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisClient connects to Redis and verifies the connection.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisStore returns a store for name over an existing client.
// The caller owns client and must close it.
func NewRedisStore(client *redis.Client, name string) *RedisStore {
	return &RedisStore{client: client, key: "jobadvisor:" + name}
}

// Load reads every field of the store hash.
func (r *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s from redis: %w", r.key, err)
	}

	snap := make(Snapshot, len(fields))
	for k, v := range fields {
		snap[k] = []byte(v)
	}
	return snap, nil
}

// Save replaces the store hash inside a MULTI/EXEC block.
func (r *RedisStore) Save(ctx context.Context, snapshot Snapshot) error {
	values := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		values[k] = string(v)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.HSet(ctx, r.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %s to redis: %w", r.key, err)
	}
	return nil
}
