package registry

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "agentd:sandbox:"

// defaultTTL bounds stale entries left behind by crashed pipelines. Entries
// are refreshed implicitly by re-registration on a new run.
const defaultTTL = 24 * time.Hour

// RedisRegistry maps task ids to their active environment handle so a stop
// request can reach the environment of a pipeline running in another process.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(addr string) *RedisRegistry {
	return &RedisRegistry{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    defaultTTL,
	}
}

func (r *RedisRegistry) Register(ctx context.Context, taskID, sandboxID string) error {
	return r.client.Set(ctx, keyPrefix+taskID, sandboxID, r.ttl).Err()
}

// Lookup returns an empty handle without error when no entry exists.
func (r *RedisRegistry) Lookup(ctx context.Context, taskID string) (string, error) {
	v, err := r.client.Get(ctx, keyPrefix+taskID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *RedisRegistry) Deregister(ctx context.Context, taskID string) error {
	return r.client.Del(ctx, keyPrefix+taskID).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

// Ping verifies the redis connection at startup.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
