package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/candidate-intake/internal/model"
)

// KeyPrefix namespaces checkpoint keys in redis.
const KeyPrefix = "intake:checkpoint:"

// Cmdable is the subset of the redis client used for checkpoints.
// *redis.Client satisfies it.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCheckpointer keeps progress as a JSON string under one key per job.
type RedisCheckpointer struct {
	rdb Cmdable
	ttl time.Duration
}

// NewRedis returns a Checkpointer backed by rdb. A zero ttl keeps keys
// until cleared.
func NewRedis(rdb Cmdable, ttl time.Duration) *RedisCheckpointer {
	return &RedisCheckpointer{rdb: rdb, ttl: ttl}
}

// NewRedisClient opens a redis client from address settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Key returns the redis key for jobName.
func Key(jobName string) string {
	return KeyPrefix + jobName
}

// Load implements Checkpointer.
func (r *RedisCheckpointer) Load(ctx context.Context, jobName string) (*model.Progress, error) {
	data, err := r.rdb.Get(ctx, Key(jobName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: redis get %s", jobName)
	}
	return decode(data)
}

// Save implements Checkpointer.
func (r *RedisCheckpointer) Save(ctx context.Context, jobName string, p *model.Progress) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, Key(jobName), data, r.ttl).Err(); err != nil {
		return eris.Wrapf(err, "checkpoint: redis set %s", jobName)
	}
	return nil
}

// Clear implements Checkpointer.
func (r *RedisCheckpointer) Clear(ctx context.Context, jobName string) error {
	if err := r.rdb.Del(ctx, Key(jobName)).Err(); err != nil {
		return eris.Wrapf(err, "checkpoint: redis del %s", jobName)
	}
	return nil
}
