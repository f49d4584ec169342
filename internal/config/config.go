// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	TelegramBotToken string

	// Admin API
	AdminAPIToken string

	// Crawl
	CrawlInterval time.Duration
	CrawlDelayMin time.Duration
	CrawlDelayMax time.Duration

	// Extract
	FetchTimeout        time.Duration
	FetchMaxSize        int64
	ExtractPriceTimeout time.Duration
	ExtractTitleTimeout time.Duration
	ExtractPollInterval time.Duration

	// Notify
	NotifyRatePerSec float64

	// Rate Limit
	RateLimitGeneral  int
	RateLimitWatchReg int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}

	cfg.AdminAPIToken = os.Getenv("ADMIN_API_TOKEN")
	if cfg.AdminAPIToken == "" {
		missing = append(missing, "ADMIN_API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CrawlInterval = getEnvDuration("CRAWL_INTERVAL", 24*time.Hour)
	cfg.CrawlDelayMin = getEnvDuration("CRAWL_DELAY_MIN", 2*time.Second)
	cfg.CrawlDelayMax = getEnvDuration("CRAWL_DELAY_MAX", 5*time.Second)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.ExtractPriceTimeout = getEnvDuration("EXTRACT_PRICE_TIMEOUT", 3*time.Second)
	cfg.ExtractTitleTimeout = getEnvDuration("EXTRACT_TITLE_TIMEOUT", 5*time.Second)
	cfg.ExtractPollInterval = getEnvDuration("EXTRACT_POLL_INTERVAL", 500*time.Millisecond)
	cfg.NotifyRatePerSec = getEnvFloat("NOTIFY_RATE_PER_SEC", 25)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWatchReg = getEnvInt("RATE_LIMIT_WATCH_REG", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	// 遅延レンジの下限が上限を超えている場合は設定ミスとして扱う
	if cfg.CrawlDelayMin > cfg.CrawlDelayMax {
		return nil, fmt.Errorf("CRAWL_DELAY_MIN (%v) must not exceed CRAWL_DELAY_MAX (%v)",
			cfg.CrawlDelayMin, cfg.CrawlDelayMax)
	}

	return cfg, nil
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
	if err != nil {
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
	if err != nil {
		return defaultVal
	}
	return d
}
