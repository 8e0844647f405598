package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// redisKeyPrefix namespaces session keys in a shared Redis.
	redisKeyPrefix = "courier:session:"
	// redisLockPrefix namespaces turn locks.
	redisLockPrefix = "courier:lock:"
)

// unlockScript deletes a lock only while it still carries our token, so an
// expired lock taken over by another process is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore keeps sessions in Redis with a sliding TTL. Turns are
// serialized across processes with a SET NX lock per key.
type RedisStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

var _ Locker = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. A zero ttl keeps sessions forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, opts ...Option) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("session: redis client is required")
	}
	o := applyOptions(opts)
	return &RedisStore{rdb: rdb, ttl: ttl, lockTTL: o.lockTTL}, nil
}

// RedisLockKey returns the Redis key of key's turn lock.
func RedisLockKey(key Key) string {
	return redisLockPrefix + key.String()
}

// Lock implements Locker.
func (s *RedisStore) Lock(ctx context.Context, key Key) (func(), error) {
	name := RedisLockKey(key)
	token := uuid.NewString()
	err := acquire(ctx, func() (bool, error) {
		return s.rdb.SetNX(ctx, name, token, s.lockTTL).Result()
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func() {
		uctx, cancel := unlockContext(ctx)
		defer cancel()
		// On failure the lock expires after lockTTL.
		_ = unlockScript.Run(uctx, s.rdb, []string{name}, token).Err()
	}, nil
}

// RedisKey returns the Redis key holding key's state.
func RedisKey(key Key) string {
	return redisKeyPrefix + key.String()
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key Key) (State, error) {
	b, err := s.rdb.Get(ctx, RedisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return State(b), nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key Key, state State) error {
	if err := s.rdb.Set(ctx, RedisKey(key), []byte(state), s.ttl).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
