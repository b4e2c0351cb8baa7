// Package config は環境変数からアプリケーション設定を読み込む。
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

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret   string
	TokenTTL    time.Duration
	BcryptCost  int
	AdminSecret string

	// Bot
	BotAPIKey string // 空の場合は/discord配下のキー検証を行わない

	// Discord通知
	DiscordBotToken         string
	DiscordAPIBase          string
	DiscordDefaultChannelID string
	NotifyTimeout           time.Duration
	AnnounceInterval        time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAttend  int

	// Server
	ServerPort string
	LogLevel   string

	// CORS
	CORSAllowedOrigin string
}

// defaultAdminSecret は管理者昇格シークレットの既定値。本番ではADMIN_SECRETで上書きする。
const defaultAdminSecret = "123"

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 30*time.Minute)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.AdminSecret = getEnvString("ADMIN_SECRET", defaultAdminSecret)
	cfg.BotAPIKey = getEnvString("BOT_API_KEY", "")
	cfg.DiscordBotToken = getEnvString("DISCORD_BOT_TOKEN", "")
	cfg.DiscordAPIBase = getEnvString("DISCORD_API_BASE", "https://discord.com/api/v10")
	cfg.DiscordDefaultChannelID = getEnvString("DISCORD_DEFAULT_CHANNEL_ID", "")
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)
	cfg.AnnounceInterval = getEnvDuration("ANNOUNCE_INTERVAL", time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAttend = getEnvInt("RATE_LIMIT_ATTEND", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// NotificationsEnabled はDiscord通知に必要なトークンが設定されているかを返す。
func (c *Config) NotificationsEnabled() bool {
	return c.DiscordBotToken != ""
}

// UsesDefaultAdminSecret は管理者昇格シークレットが既定値のままかを返す。
func (c *Config) UsesDefaultAdminSecret() bool {
	return c.AdminSecret == defaultAdminSecret
}

// loadDotEnv は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
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
