package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	chdirForTest(t, t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.TTL != 3*time.Second || cfg.Retries != 0 || cfg.HTTPPort != 8080 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	chdirForTest(t, t.TempDir())
	t.Setenv("LEASE_BACKEND", BackendRedis)
	t.Setenv("LEASE_REDIS_ADDR", "redis:6380")
	t.Setenv("LEASE_REDIS_DB", "2")
	t.Setenv("LEASE_TTL", "5s")
	t.Setenv("LEASE_RETRIES", "3")
	t.Setenv("LEASE_DEVELOPMENT", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RedisAddr != "redis:6380" || cfg.RedisDB != 2 || cfg.TTL != 5*time.Second || cfg.Retries != 3 || !cfg.Development {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigKafkaBrokers(t *testing.T) {
	chdirForTest(t, t.TempDir())
	t.Setenv("LEASE_KAFKA_BROKERS", "k1:9092, ,k2:9092")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %q", cfg.KafkaBrokers)
	}
}

func TestReadConfigSkipsValidation(t *testing.T) {
	chdirForTest(t, t.TempDir())
	t.Setenv("LEASE_BACKEND", BackendPostgres)
	t.Setenv("LEASE_POSTGRES_DSN", "")
	os.Unsetenv("LEASE_POSTGRES_DSN")

	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "LEASE_POSTGRES_DSN") {
		t.Fatalf("expected LoadConfig to reject the environment, got %v", err)
	}
	cfg := ReadConfig()
	if cfg.Backend != BackendPostgres || cfg.PostgresDSN != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	cfg.PostgresDSN = "host=x"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("completed config rejected: %v", err)
	}
}

func TestLoadConfigFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdirForTest(t, dir)
	content := "LEASE_BACKEND=sqlite\nLEASE_SQLITE_PATH=locks.db\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv does not override variables that are already set
	t.Setenv("LEASE_BACKEND", "")
	os.Unsetenv("LEASE_BACKEND")
	t.Setenv("LEASE_SQLITE_PATH", "")
	os.Unsetenv("LEASE_SQLITE_PATH")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != BackendSQLite || cfg.SQLitePath != "locks.db" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Backend: BackendMemory, TTL: time.Second, HTTPPort: 8080}
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"unknown backend":   {func(c *Config) { c.Backend = "etcd" }, "unknown LEASE_BACKEND"},
		"postgres no dsn":   {func(c *Config) { c.Backend = BackendPostgres }, "LEASE_POSTGRES_DSN"},
		"redis no addr":     {func(c *Config) { c.Backend = BackendRedis }, "LEASE_REDIS_ADDR"},
		"mongo no database": {func(c *Config) { c.Backend = BackendMongo; c.MongoURI = "mongodb://x" }, "LEASE_MONGO_DATABASE"},
		"short ttl":         {func(c *Config) { c.TTL = time.Microsecond }, "LEASE_TTL"},
		"negative retries":  {func(c *Config) { c.Retries = -1 }, "LEASE_RETRIES"},
		"bad port":          {func(c *Config) { c.HTTPPort = 0 }, "LEASE_HTTP_PORT"},
		"two buses":         {func(c *Config) { c.NATSURL = "nats://x"; c.KafkaBrokers = []string{"k:9092"} }, "mutually exclusive"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for name, tc := range cases {
		cfg := valid
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error containing %q, got %v", name, tc.want, err)
		}
	}
}

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore cwd %s: %v", prev, err)
		}
	})
}
