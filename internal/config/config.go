// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity provider (Firebase)
	FirebaseProjectID       string
	FirebaseAPIKey          string
	FirebaseCredentialsFile string
	FirebaseCredentialsJSON string

	// IDトークンをJWT公開鍵で直接検証する場合の設定。
	// IDTokenPublicKeyPEMが空の場合はFirebase Admin SDKで検証する。
	IDTokenPublicKeyPEM string
	IDTokenIssuer       string
	IDTokenAudience     string

	// Session
	SessionMaxAge int

	// Payment
	StripeSecretKey string
	StripeAPIURL    string
	PaymentCurrency string

	// Redis（購入の冪等キー）。空の場合は冪等チェックを行わない。
	RedisURL       string
	IdempotencyTTL time.Duration

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitPayment int
	RateLimitAuth    int

	// Worker
	SessionCleanupInterval time.Duration
	ReconcileInterval      time.Duration
	OrphanThreshold        time.Duration
	OrphanScanLimit        int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigins []string
}

// PaymentEnabled は決済プロセッサーの資格情報が設定されているかを返す。
func (c *Config) PaymentEnabled() bool {
	return c.StripeSecretKey != ""
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（既定は.env）が存在する場合は、未設定の環境変数をそのファイルで補う。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = require("DATABASE_URL")
	cfg.FirebaseProjectID = require("FIREBASE_PROJECT_ID")
	cfg.FirebaseAPIKey = require("FIREBASE_API_KEY")
	cfg.BaseURL = require("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FirebaseCredentialsFile = os.Getenv("FIREBASE_CREDENTIALS_FILE")
	cfg.FirebaseCredentialsJSON = os.Getenv("FIREBASE_CREDENTIALS_JSON")
	cfg.IDTokenPublicKeyPEM = os.Getenv("ID_TOKEN_PUBLIC_KEY_PEM")
	cfg.IDTokenIssuer = getEnvString("ID_TOKEN_ISSUER", "https://securetoken.google.com/"+cfg.FirebaseProjectID)
	cfg.IDTokenAudience = getEnvString("ID_TOKEN_AUDIENCE", cfg.FirebaseProjectID)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeAPIURL = os.Getenv("STRIPE_API_URL")
	cfg.PaymentCurrency = strings.ToLower(getEnvString("PAYMENT_CURRENCY", "usd"))
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.IdempotencyTTL = getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPayment = getEnvInt("RATE_LIMIT_PAYMENT", 10)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 15*time.Minute)
	cfg.OrphanThreshold = getEnvDuration("ORPHAN_THRESHOLD", 30*time.Minute)
	cfg.OrphanScanLimit = getEnvInt("ORPHAN_SCAN_LIMIT", 100)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	return cfg, nil
}

// loadEnvFile はdotenvファイルを読み込む。既に設定されている環境変数は上書きしない。
// ファイルが存在しない場合は何もしない。
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
