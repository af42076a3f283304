package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/star/isstrack/internal/vectors"
)

// DefaultRedisKey is the key snapshots are stored under when none is configured.
const DefaultRedisKey = "isstrack:snapshot"

// RedisClient is the subset of go-redis used for snapshots.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisSnapshotter keeps the latest snapshot as a single JSON value.
type RedisSnapshotter struct {
	client RedisClient
	key    string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisSnapshotter creates a RedisSnapshotter. A zero ttl keeps the key
// forever.
func NewRedisSnapshotter(client RedisClient, key string, ttl time.Duration) *RedisSnapshotter {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSnapshotter{
		client: client,
		key:    key,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Save overwrites the stored snapshot with t.
func (r *RedisSnapshotter) Save(ctx context.Context, t *vectors.Table) error {
	data, err := encode(t, r.now())
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing snapshot in redis: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or ErrNoSnapshot when the key is absent.
func (r *RedisSnapshotter) Load(ctx context.Context) (vectors.Payload, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return vectors.Payload{}, ErrNoSnapshot
	}
	if err != nil {
		return vectors.Payload{}, fmt.Errorf("reading snapshot from redis: %w", err)
	}
	return decode(data)
}
