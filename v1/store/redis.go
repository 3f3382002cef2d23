package store

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	defaultRedisKeyPrefix = "lease:"
)

// ARGV: expires_at, now (unix ms)
var tryLockScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if exp and tonumber(exp) >= tonumber(ARGV[2]) then
    return false
end
if not exp then
    redis.call('HSET', KEYS[1], 'created_at', ARGV[2])
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[1], 'updated_at', ARGV[2])
redis.call('PEXPIREAT', KEYS[1], ARGV[1])
return redis.call('HMGET', KEYS[1], 'expires_at', 'created_at', 'updated_at')
`)

// ARGV: expected expires_at, new expires_at, now (unix ms)
var relockScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if not exp or exp ~= ARGV[1] then
    return false
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[2], 'updated_at', ARGV[3])
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
return redis.call('HMGET', KEYS[1], 'expires_at', 'created_at', 'updated_at')
`)

// RedisStore implements Store using a Redis backend. Each record is a hash
// whose key expires at the lease deadline.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	prefix  string
	timeout time.Duration
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// WithKeyPrefix sets the prefix prepended to lock names to build Redis keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisStoreOptions) {
		o.prefix = prefix
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	o := redisStoreOptions{prefix: defaultRedisKeyPrefix, timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, prefix: o.prefix, timeout: o.timeout}
}

// Key returns the Redis key holding the record for name.
func (s *RedisStore) Key(name string) string {
	return s.prefix + name
}

// TryLock implements Store.TryLock.
func (s *RedisStore) TryLock(ctx context.Context, name string, expiresAt, now time.Time) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := tryLockScript.Run(cctx, s.client, []string{s.Key(name)},
		expiresAt.UnixMilli(), now.UnixMilli()).Slice()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, s.mapErr(err)
	}
	rec, err := parseRedisRecord(name, res)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Relock implements Store.Relock.
func (s *RedisStore) Relock(ctx context.Context, name string, expected, expiresAt, now time.Time) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := relockScript.Run(cctx, s.client, []string{s.Key(name)},
		strconv.FormatInt(expected.UnixMilli(), 10), expiresAt.UnixMilli(), now.UnixMilli()).Slice()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, s.mapErr(err)
	}
	rec, err := parseRedisRecord(name, res)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(cctx, s.Key(name)).Err(); err != nil {
		return s.mapErr(err)
	}
	return nil
}

// Get implements Getter.Get.
func (s *RedisStore) Get(ctx context.Context, name string) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.client.HMGet(cctx, s.Key(name), "expires_at", "created_at", "updated_at").Result()
	if err != nil {
		return Record{}, false, s.mapErr(err)
	}
	if res[0] == nil {
		return Record{}, false, nil
	}
	rec, err := parseRedisRecord(name, res)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) mapErr(err error) error {
	if stdErrors.Is(err, redis.ErrClosed) {
		return leaseerrors.ErrConnectionClosed
	}
	return mapDeadline(err)
}

func parseRedisRecord(name string, vals []interface{}) (Record, error) {
	if len(vals) != 3 {
		return Record{}, fmt.Errorf("store: unexpected redis reply for %q: %v", name, vals)
	}
	var ms [3]int64
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return Record{}, fmt.Errorf("store: unexpected redis field for %q: %v", name, v)
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("store: parse redis field for %q: %w", name, err)
		}
		ms[i] = n
	}
	return Record{
		Name:      name,
		ExpiresAt: time.UnixMilli(ms[0]),
		CreatedAt: time.UnixMilli(ms[1]),
		UpdatedAt: time.UnixMilli(ms[2]),
	}, nil
}
