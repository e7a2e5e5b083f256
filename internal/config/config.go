// Package config loads rollup-core's configuration from a YAML file,
// .env files, and environment variables, in that order of increasing
// precedence (a .env file never overrides a variable already set in
// the environment), using viper the way the rest of this codebase's
// ancestry does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting the rollup core needs at startup.
type Config struct {
	// Deployment mode, mirrored into log formatting decisions.
	Mode string `yaml:"mode"` // "production", "development"

	Storage   StorageConfig   `yaml:"storage"`
	Graph     GraphConfig     `yaml:"graph"`
	Cache     CacheConfig     `yaml:"cache"`
	Index     IndexConfig     `yaml:"index"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Queue     QueueConfig     `yaml:"queue"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Risk      RiskConfig      `yaml:"risk"`
}

// StorageConfig selects and configures the durable Store backend.
type StorageConfig struct {
	PostgresDSN     string `yaml:"postgres_dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
}

// GraphConfig configures the Neo4j-backed GraphProvider used to fetch
// per-repository scan graphs.
type GraphConfig struct {
	URI               string        `yaml:"uri"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	MaxTransactionRetryTime time.Duration `yaml:"max_transaction_retry_time"`
}

// CacheConfig configures the two-tier external object index cache.
type CacheConfig struct {
	L1MaxEntries int           `yaml:"l1_max_entries"`
	L1TTL        time.Duration `yaml:"l1_ttl"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisDB      int           `yaml:"redis_db"`
	L2TTL        time.Duration `yaml:"l2_ttl"`
	StaleWindow  time.Duration `yaml:"stale_window"` // stale-while-revalidate grace period past L2TTL
}

// IndexConfig bounds external object index builds.
type IndexConfig struct {
	BuildTimeout    time.Duration `yaml:"build_timeout"`
	MaxReferencesPerNode int      `yaml:"max_references_per_node"`
}

// ExecutorConfig bounds each phase of a rollup execution.
type ExecutorConfig struct {
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MatchTimeout  time.Duration `yaml:"match_timeout"`
	MergeTimeout  time.Duration `yaml:"merge_timeout"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	MaxRetries    int           `yaml:"max_retries"`    // repository-fetch retries only
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	CancelCheckInterval time.Duration `yaml:"cancel_check_interval"`
}

// QueueConfig bounds the tenant-scoped execution queue.
type QueueConfig struct {
	Workers              int `yaml:"workers"`
	MaxConcurrentPerTenant int `yaml:"max_concurrent_per_tenant"`
	QueueDepth           int `yaml:"queue_depth"`
}

// RateLimitConfig configures the per-tenant token bucket that gates
// rollup execution submission.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RiskConfig holds the blast-radius engine's configurable risk
// thresholds, resolving SPEC_FULL.md's Open Question on where these
// live: externalized here rather than hardcoded in the engine.
type RiskConfig struct {
	MediumThreshold   float64 `yaml:"medium_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
	MaxDepth          int     `yaml:"max_depth"`
	MaxNodes          int     `yaml:"max_nodes"`
}

// Default returns a complete, internally consistent configuration
// suitable for local development.
func Default() *Config {
	return &Config{
		Mode: "development",
		Storage: StorageConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Graph: GraphConfig{
			URI:                     "bolt://localhost:7687",
			Username:                "neo4j",
			ConnectTimeout:          10 * time.Second,
			MaxTransactionRetryTime: 30 * time.Second,
		},
		Cache: CacheConfig{
			L1MaxEntries: 10_000,
			L1TTL:        5 * time.Minute,
			RedisAddr:    "localhost:6379",
			L2TTL:        1 * time.Hour,
			StaleWindow:  10 * time.Minute,
		},
		Index: IndexConfig{
			BuildTimeout:         30 * time.Second,
			MaxReferencesPerNode: 64,
		},
		Executor: ExecutorConfig{
			FetchTimeout:        2 * time.Minute,
			MatchTimeout:        1 * time.Minute,
			MergeTimeout:        1 * time.Minute,
			StoreTimeout:        30 * time.Second,
			MaxRetries:          3,
			RetryBaseDelay:      500 * time.Millisecond,
			RetryMaxDelay:       10 * time.Second,
			CancelCheckInterval: 250 * time.Millisecond,
		},
		Queue: QueueConfig{
			Workers:                4,
			MaxConcurrentPerTenant: 2,
			QueueDepth:             256,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             5,
		},
		Risk: RiskConfig{
			MediumThreshold:   0.25,
			HighThreshold:     0.50,
			CriticalThreshold: 0.75,
			MaxDepth:          10,
			MaxNodes:          5000,
		},
	}
}

// Load reads configuration from path (or standard search locations if
// path is empty), layering environment variables and .env files on
// top of defaults. It does not validate the loaded values.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("index", cfg.Index)
	v.SetDefault("executor", cfg.Executor)
	v.SetDefault("queue", cfg.Queue)
	v.SetDefault("rate_limit", cfg.RateLimit)
	v.SetDefault("risk", cfg.Risk)

	v.SetEnvPrefix("ROLLUP")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rollup-core")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	envFiles := []string{".env.local", ".env"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Graph.URI = uri
	}
	if user := os.Getenv("NEO4J_USERNAME"); user != "" {
		cfg.Graph.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Graph.Password = pass
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if mode := os.Getenv("ROLLUP_MODE"); mode != "" {
		cfg.Mode = mode
	}
	if workers := os.Getenv("QUEUE_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Queue.Workers = n
		}
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("storage", c.Storage)
	v.Set("graph", c.Graph)
	v.Set("cache", c.Cache)
	v.Set("index", c.Index)
	v.Set("executor", c.Executor)
	v.Set("queue", c.Queue)
	v.Set("rate_limit", c.RateLimit)
	v.Set("risk", c.Risk)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
