package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/presets"
)

var (
	concurrency = flag.Int("c", 50, "Concurrency")
	requests    = flag.Int("n", 10000, "Acquire/release cycles")
	contended   = flag.Bool("contended", false, "All workers compete for a single name")
	ttl         = flag.Duration("ttl", 3*time.Second, "Lease duration")
	target      = flag.String("target", "all", "Target: memory, redis, sqlite, postgres")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis Address")
	sqlitePath  = flag.String("sqlite-path", "bench.db", "SQLite database file")
	postgresDSN = flag.String("postgres-dsn", "host=localhost user=postgres password=password dbname=lease sslmode=disable", "Postgres DSN")
)

func main() {
	flag.Parse()

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"memory", "redis", "sqlite", "postgres"}
	}

	fmt.Printf("| %-10s | %-10s | %-12s | %-12s | %-10s |\n", "Store", "Ops/sec", "Avg Latency", "P99 Latency", "Acquired")
	fmt.Println("|:---|:---|:---|:---|:---|")

	for _, t := range targets {
		runBenchmark(strings.TrimSpace(t))
	}
}

func openGorm(d gorm.Dialector) (*lock.Locks, error) {
	db, err := gorm.Open(d, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	return presets.NewGorm(presets.GormOptions{DB: db, TableName: "bench_locks"})
}

func runBenchmark(name string) {
	var (
		l   *lock.Locks
		err error
	)

	switch name {
	case "memory":
		l = presets.NewInMemoryStandalone()
	case "redis":
		l = presets.NewRedis(presets.RedisOptions{Addr: *redisAddr, KeyPrefix: "bench:"})
	case "sqlite":
		l, err = openGorm(sqlite.Open(*sqlitePath))
	case "postgres":
		l, err = openGorm(postgres.Open(*postgresDSN))
	default:
		log.Printf("Unknown target: %s", name)
		return
	}
	if err != nil {
		fmt.Printf("| %-10s | %-10s | %-12s | %-12s | %-10s |\n", name, "ERROR", "-", "-", "-")
		return
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	var ops, acquired int64
	totalReqs := *requests
	latencies := make([]int64, totalReqs)

	start := time.Now()
	chunk := totalReqs / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			offset := idx * chunk
			for j := 0; j < chunk; j++ {
				key := fmt.Sprintf("bench:%d:%d", idx, j)
				if *contended {
					key = "bench:shared"
				}
				reqStart := time.Now()
				rec, err := l.TryAcquire(ctx, key, *ttl)
				if err != nil {
					continue
				}
				if rec != nil {
					if err := l.Release(ctx, key); err != nil {
						continue
					}
					atomic.AddInt64(&acquired, 1)
				}
				atomic.AddInt64(&ops, 1)
				latencies[offset+j] = time.Since(reqStart).Nanoseconds()
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	if ops == 0 {
		fmt.Printf("| %-10s | %-10s | %-12s | %-12s | %-10s |\n", name, "ERROR", "-", "-", "-")
		return
	}

	throughput := float64(ops) / elapsed.Seconds()
	avgLat := float64(elapsed.Nanoseconds()) / float64(ops)

	// Calculate P99
	p99 := "-"
	validLats := make([]int64, 0, ops)
	for _, lat := range latencies {
		if lat > 0 {
			validLats = append(validLats, lat)
		}
	}
	if len(validLats) > 0 {
		sort.Slice(validLats, func(i, j int) bool { return validLats[i] < validLats[j] })
		p99Idx := int(float64(len(validLats)) * 0.99)
		if p99Idx >= len(validLats) {
			p99Idx = len(validLats) - 1
		}
		p99 = fmt.Sprintf("%d", validLats[p99Idx])
	}

	fmt.Printf("| %-10s | %-10.0f | %-12.0f | %-12s | %-10d |\n", name, throughput, avgLat, p99, acquired)
}
