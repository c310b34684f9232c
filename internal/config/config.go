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
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleHostedDomain string

	// Session
	SessionSecret  string
	SessionMaxAge  int
	AdminEmails    []string
	SessionCleanup time.Duration

	// Viewer
	ViewerTokenSecret string
	ViewerSessionTTL  time.Duration

	// Argon2id
	Argon2Time      uint32
	Argon2MemoryKiB uint32
	Argon2Threads   uint8

	// Rate Limit (req/min/IP)
	RateLimitGeneral int
	RateLimitAccess  int

	// Media
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	MediaPublicURL    string
	MediaRequireHTTPS bool
	UploadURLExpires  time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv は指定された.envファイルを読み込み、未設定の環境変数のみを補う。
// ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)

	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.GoogleHostedDomain = getEnvString("GOOGLE_HOSTED_DOMAIN", "")
	cfg.AdminEmails = getEnvList("ADMIN_EMAILS")
	cfg.SessionCleanup = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)

	// 閲覧トークンの鍵は未指定ならセッション鍵を流用する
	cfg.ViewerTokenSecret = getEnvString("VIEWER_TOKEN_SECRET", cfg.SessionSecret)
	cfg.ViewerSessionTTL = getEnvDuration("VIEWER_SESSION_TTL", 12*time.Hour)

	cfg.Argon2Time = uint32(getEnvInt("ARGON2_TIME", 3))
	cfg.Argon2MemoryKiB = uint32(getEnvInt("ARGON2_MEMORY_KIB", 64*1024))
	cfg.Argon2Threads = uint8(getEnvInt("ARGON2_THREADS", 2))

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAccess = getEnvInt("RATE_LIMIT_ACCESS", 10)

	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY_ID", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_ACCESS_KEY", "")
	cfg.MediaPublicURL = getEnvString("MEDIA_PUBLIC_BASE_URL", "")
	cfg.MediaRequireHTTPS = getEnvBool("MEDIA_REQUIRE_HTTPS", false)
	cfg.UploadURLExpires = getEnvDuration("UPLOAD_URL_EXPIRES", 15*time.Minute)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

// UploadsEnabled はメディアアップロード用のバケットが設定されているかを返す。
func (c *Config) UploadsEnabled() bool {
	return c.S3Bucket != ""
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
	if err != nil || i < 0 {
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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
