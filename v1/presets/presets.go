package presets

import (
	"context"
	"time"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"github.com/mirkobrombin/go-lease/v1/events"
	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/store"
)

// Remote buses are wrapped in a circuit breaker so that an unreachable broker
// does not slow every lock and unlock down.
const (
	BreakerThreshold = 5
	BreakerTimeout   = 30 * time.Second
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix overrides the prefix of lease keys.
	KeyPrefix string
}

// GormOptions configures a SQL backed preset.
type GormOptions struct {
	DB        *gorm.DB
	TableName string
	// NATS, when set, propagates lock events between processes.
	NATS *nats.Conn
	// Bus, when set, is used instead of NATS. See events.NewKafkaBus.
	Bus events.Bus
}

// MongoOptions configures a MongoDB backed preset.
type MongoOptions struct {
	Collection *mongo.Collection
	// NATS, when set, propagates lock events between processes.
	NATS *nats.Conn
	// Bus, when set, is used instead of NATS.
	Bus events.Bus
}

// NewInMemoryStandalone returns locks that only coordinate goroutines of the
// current process. Useful for local development and tests.
func NewInMemoryStandalone(opts ...lock.LocksOption) *lock.Locks {
	s := store.NewInMemoryStore()
	b := events.NewInMemoryBus()
	return lock.New(s, append([]lock.LocksOption{lock.WithBus(b)}, opts...)...)
}

// NewRedis returns locks stored in Redis, using Redis Pub/Sub to propagate
// lock events.
func NewRedis(opts RedisOptions, lockOpts ...lock.LocksOption) *lock.Locks {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	var storeOpts []store.RedisOption
	if opts.KeyPrefix != "" {
		storeOpts = append(storeOpts, store.WithKeyPrefix(opts.KeyPrefix))
	}
	s := store.NewRedisStore(client, storeOpts...)
	b := events.NewRedisBus(events.RedisBusOptions{Client: client})
	return lock.New(s, withBus(b, lockOpts)...)
}

// NewGorm returns locks stored in a SQL table. The table is migrated on
// creation.
func NewGorm(opts GormOptions, lockOpts ...lock.LocksOption) (*lock.Locks, error) {
	var storeOpts []store.GormOption
	if opts.TableName != "" {
		storeOpts = append(storeOpts, store.WithGormTableName(opts.TableName))
	}
	s, err := store.NewGormStore(opts.DB, storeOpts...)
	if err != nil {
		return nil, err
	}
	return lock.New(s, withBus(remoteBus(opts.NATS, opts.Bus), lockOpts)...), nil
}

// NewMongo returns locks stored in a MongoDB collection. The indexes,
// including the TTL index collecting expired leases, are created on creation.
func NewMongo(ctx context.Context, opts MongoOptions, lockOpts ...lock.LocksOption) (*lock.Locks, error) {
	s := store.NewMongoStore(opts.Collection)
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return lock.New(s, withBus(remoteBus(opts.NATS, opts.Bus), lockOpts)...), nil
}

func remoteBus(conn *nats.Conn, bus events.Bus) events.Bus {
	if bus != nil {
		return bus
	}
	if conn != nil {
		return events.NewNATSBus(conn)
	}
	return nil
}

func withBus(bus events.Bus, opts []lock.LocksOption) []lock.LocksOption {
	if bus == nil {
		return opts
	}
	cb := events.NewCircuitBreaker(bus, BreakerThreshold, BreakerTimeout)
	return append([]lock.LocksOption{lock.WithBus(cb)}, opts...)
}
