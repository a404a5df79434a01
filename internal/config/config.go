// Package config は環境変数と掲載元定義ファイルから設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// 保持期間の既定値（日）
const (
	DefaultListingRetentionDays  = 90
	DefaultSnapshotRetentionDays = 180
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Retention
	ListingRetentionDays  int
	SnapshotRetentionDays int

	// Cycle
	CycleInterval          time.Duration
	CollectorMaxConcurrent int
	LockTTL                time.Duration
	RedisURL               string // 空の場合はプロセス内のロックのみ

	// Ingest
	IngestRate       float64 // 1秒あたりのUPSERT数。0は無制限
	IngestBurst      int
	ActiveWindowDays int

	// Fetch
	FetchTimeout time.Duration
	FetchMaxSize int64
	SourcesFile  string

	// 「今日」を決めるタイムゾーン
	Timezone string
	Location *time.Location

	// Server
	ServerPort string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。すでに設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}

	cfg.ListingRetentionDays = getEnvPositiveInt("LISTING_RETENTION_DAYS", DefaultListingRetentionDays)
	cfg.SnapshotRetentionDays = getEnvPositiveInt("SNAPSHOT_RETENTION_DAYS", DefaultSnapshotRetentionDays)
	cfg.CycleInterval = getEnvDuration("CYCLE_INTERVAL", 24*time.Hour)
	cfg.CollectorMaxConcurrent = getEnvPositiveInt("COLLECTOR_MAX_CONCURRENT", 3)
	cfg.LockTTL = getEnvDuration("LOCK_TTL", 30*time.Minute)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.IngestRate = getEnvFloat("INGEST_RATE", 50)
	cfg.IngestBurst = getEnvPositiveInt("INGEST_BURST", 10)
	cfg.ActiveWindowDays = getEnvPositiveInt("ACTIVE_WINDOW_DAYS", 7)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.SourcesFile = getEnvString("SOURCES_FILE", "")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.Timezone = getEnvString("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvPositiveInt は1以上の整数を返す。未設定・不正・1未満の場合は既定値。
func getEnvPositiveInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
