package statestore

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the remote shared backend, used when REDIS_URL is
// configured and reachable (spec §4.1, §6).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials rawURL (a redis:// or rediss:// URL) and pings it
// once to fail fast if the endpoint is unreachable at startup.
func NewRedisStore(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("statestore: redis get %q failed: %v", key, err)
		}
		return nil, false
	}
	return val, true
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("statestore: redis set %q failed: %v", key, err)
	}
}

func (r *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		log.Printf("statestore: redis setnx %q failed: %v", key, err)
		return false
	}
	return ok
}
