package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
	Policy   PolicyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/classcast?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// SessionConfig holds live session engine tuning knobs.
type SessionConfig struct {
	LivenessWindow  time.Duration // max silence before a connection is presumed dead
	ReapInterval    time.Duration // how often the reaper scans for dead connections
	BackfillSize    int           // recent-message ring capacity per session
	ViewerQueueSize int           // per-viewer outbound event buffer
	EndGracePeriod  time.Duration // how long ended-session stats stay readable in memory
	MessageRate     float64       // per-sender messages per second
	MessageBurst    int           // per-sender message burst
	ReactionWindow  time.Duration // sliding window for reaction display aggregation
}

// PolicyConfig holds moderation policy defaults used when a session has no stored policy.
type PolicyConfig struct {
	SlowModeSeconds int
	BannedTerms     []string
	HoldForReview   bool
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/classcast?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classcast"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Session: SessionConfig{
			LivenessWindow:  getEnvDuration("SESSION_LIVENESS_WINDOW_SEC", 45),
			ReapInterval:    getEnvDuration("SESSION_REAP_INTERVAL_SEC", 15),
			BackfillSize:    getEnvInt("SESSION_BACKFILL_SIZE", 200),
			ViewerQueueSize: getEnvInt("SESSION_VIEWER_QUEUE_SIZE", 64),
			EndGracePeriod:  getEnvDuration("SESSION_END_GRACE_SEC", 120),
			MessageRate:     getEnvFloat("SESSION_MESSAGE_RATE", 1.0),
			MessageBurst:    getEnvInt("SESSION_MESSAGE_BURST", 5),
			ReactionWindow:  getEnvDuration("SESSION_REACTION_WINDOW_SEC", 5),
		},
		Policy: PolicyConfig{
			SlowModeSeconds: getEnvInt("POLICY_SLOW_MODE_SECONDS", 0),
			BannedTerms:     splitTrim(getEnv("POLICY_BANNED_TERMS", ""), ","),
			HoldForReview:   getEnv("POLICY_HOLD_FOR_REVIEW", "false") == "true",
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSec)) * time.Second
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
