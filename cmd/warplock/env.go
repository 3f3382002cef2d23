package main

import (
	"context"
	"fmt"
	"os"

	nats "github.com/nats-io/nats.go"
	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-lease/internal/config"
	"github.com/mirkobrombin/go-lease/internal/logger"
	"github.com/mirkobrombin/go-lease/v1/events"
	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/presets"
	"github.com/mirkobrombin/go-lease/v1/store"
)

// env holds what every command needs: configuration, logger and the locks
// built for the selected backend.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	locks   *lock.Locks
	closers []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	_ = e.log.Sync()
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	// flags may complete an environment that is not valid on its own
	cfg := config.ReadConfig()

	// Override with flags if set
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("redis-addr") {
		cfg.RedisAddr = c.String("redis-addr")
	}
	if c.IsSet("redis-password") {
		cfg.RedisPassword = c.String("redis-password")
	}
	if c.IsSet("redis-db") {
		cfg.RedisDB = c.Int("redis-db")
	}
	if c.IsSet("postgres-dsn") {
		cfg.PostgresDSN = c.String("postgres-dsn")
	}
	if c.IsSet("sqlite-path") {
		cfg.SQLitePath = c.String("sqlite-path")
	}
	if c.IsSet("mongo-uri") {
		cfg.MongoURI = c.String("mongo-uri")
	}
	if c.IsSet("mongo-database") {
		cfg.MongoDatabase = c.String("mongo-database")
	}
	if c.IsSet("nats-url") {
		cfg.NATSURL = c.String("nats-url")
	}
	if c.IsSet("kafka-brokers") {
		cfg.KafkaBrokers = c.StringSlice("kafka-brokers")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if c.IsSet("ttl") {
		cfg.TTL = c.Duration("ttl")
	}
	if c.IsSet("retries") {
		cfg.Retries = c.Int("retries")
	}
	if c.IsSet("port") {
		cfg.HTTPPort = c.Int("port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	e := &env{cfg: cfg, log: log}

	if c.Bool("trace") {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		e.closers = append(e.closers, func() { _ = tp.Shutdown(context.Background()) })
	}

	locks, err := e.openLocks(c.Context)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.locks = locks
	return e, nil
}

func (e *env) openLocks(ctx context.Context) (*lock.Locks, error) {
	cfg := e.cfg
	opts := []lock.LocksOption{lock.WithLogger(e.log)}

	// redis and memory bring their own bus
	remote := cfg.Backend != config.BackendRedis && cfg.Backend != config.BackendMemory
	var conn *nats.Conn
	var bus events.Bus
	switch {
	case remote && cfg.NATSURL != "":
		var err error
		conn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		e.closers = append(e.closers, conn.Close)
	case remote && len(cfg.KafkaBrokers) > 0:
		kb, err := events.NewKafkaBus(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
		}
		e.closers = append(e.closers, func() { _ = kb.Close() })
		bus = kb
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return presets.NewInMemoryStandalone(opts...), nil
	case config.BackendRedis:
		return presets.NewRedis(presets.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, opts...), nil
	case config.BackendPostgres, config.BackendSQLite:
		dialector := postgres.Open(cfg.PostgresDSN)
		if cfg.Backend == config.BackendSQLite {
			dialector = sqlite.Open(cfg.SQLitePath)
		}
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
			TranslateError: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			e.closers = append(e.closers, func() { _ = sqlDB.Close() })
		}
		return presets.NewGorm(presets.GormOptions{DB: db, NATS: conn, Bus: bus}, opts...)
	case config.BackendMongo:
		client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		e.closers = append(e.closers, func() { _ = client.Disconnect(context.Background()) })
		coll := client.Database(cfg.MongoDatabase).Collection(store.DefaultMongoCollection)
		return presets.NewMongo(ctx, presets.MongoOptions{Collection: coll, NATS: conn, Bus: bus}, opts...)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
