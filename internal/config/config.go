package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/socialfeed/internal/retry"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Cache
	RedisURL           string // 空の場合はプロセス内メモリを使用する
	CacheEnabled       bool
	AdminPostsCacheTTL time.Duration
	TimelineCacheTTL   time.Duration

	// Request
	RequestTimeout time.Duration

	// Store retry
	StoreRetryMaxAttempts    int
	StoreRetryInitialBackoff time.Duration
	StoreRetryMaxBackoff     time.Duration

	// Rate Limit (req/min/user)
	RateLimitGeneral  int
	RateLimitMutation int

	// Worker
	ReconcileInterval      time.Duration
	ReconcileBatchSize     int
	SessionCleanupInterval time.Duration

	// Server
	ServerPort string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.CacheEnabled = getEnvBool("CACHE_ENABLED", true)
	cfg.AdminPostsCacheTTL = getEnvDuration("ADMIN_POSTS_CACHE_TTL", time.Hour)
	cfg.TimelineCacheTTL = getEnvDuration("TIMELINE_CACHE_TTL", time.Minute)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 10*time.Second)
	cfg.StoreRetryMaxAttempts = getEnvInt("STORE_RETRY_MAX_ATTEMPTS", 3)
	cfg.StoreRetryInitialBackoff = getEnvDuration("STORE_RETRY_INITIAL_BACKOFF", 50*time.Millisecond)
	cfg.StoreRetryMaxBackoff = getEnvDuration("STORE_RETRY_MAX_BACKOFF", time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 60)
	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute)
	cfg.ReconcileBatchSize = getEnvInt("RECONCILE_BATCH_SIZE", 500)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8800")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// RetryPolicy はストア呼び出しの再試行設定を返す。
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.StoreRetryMaxAttempts,
		InitialBackoff: c.StoreRetryInitialBackoff,
		MaxBackoff:     c.StoreRetryMaxBackoff,
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
