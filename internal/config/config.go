// Package config loads runtime settings from the environment.
//
// Values are read from process environment variables, optionally seeded from a
// .env file. Every setting has a development default so the service starts
// with an in-memory store and demo accounts.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "SHALOM_"

// Config holds all runtime configuration values.
type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string

	// Store selects the key-value backend: memory, sqlite, postgres, mysql or redis.
	StoreDriver      string
	StoreDSN         string
	StorePrefix      string
	StoreAutoMigrate bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// AuthSecret signs session tokens. Empty means generate once and persist in the store.
	AuthSecret        string
	TokenTTL          time.Duration
	MaxLoginAttempts  int
	LockDuration      time.Duration
	AdminEmail        string
	AdminPassword     string
	AdminPlaintext    bool
	DemoUserEmail     string
	DemoUserPassword  string
	MinPasswordLength int

	SecurityLogMax  int
	SecurityLogKeep int

	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64

	AMQPURL   string
	AMQPQueue string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3User     string
	S3Password string
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if path := os.Getenv(envPrefix + "ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else {
		// a missing .env in the working directory is normal
		_ = godotenv.Load()
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables without touching .env files.
func FromEnv() Config {
	return Config{
		Env:      envStr("ENV", "dev"),
		HTTPAddr: envStr("HTTP_ADDR", ":8080"),
		GRPCAddr: envStr("GRPC_ADDR", ":9090"),

		StoreDriver:      strings.ToLower(envStr("STORE_DRIVER", "memory")),
		StoreDSN:         envStr("STORE_DSN", ""),
		StorePrefix:      envStr("STORE_PREFIX", ""),
		StoreAutoMigrate: envBool("STORE_AUTO_MIGRATE", true),
		RedisAddr:        envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    envStr("REDIS_PASSWORD", ""),
		RedisDB:          envInt("REDIS_DB", 0),

		AuthSecret:        envStr("AUTH_SECRET", ""),
		TokenTTL:          envDur("TOKEN_TTL", 24*time.Hour),
		MaxLoginAttempts:  envInt("MAX_LOGIN_ATTEMPTS", 5),
		LockDuration:      envDur("LOCK_DURATION", time.Hour),
		AdminEmail:        strings.ToLower(envStr("ADMIN_EMAIL", "admin@shalomjobcenter.org")),
		AdminPassword:     envStr("ADMIN_PASSWORD", "Admin@2024"),
		AdminPlaintext:    envBool("AUTH_STORE_ADMIN_PLAINTEXT", false),
		DemoUserEmail:     strings.ToLower(envStr("DEMO_USER_EMAIL", "user@example.com")),
		DemoUserPassword:  envStr("DEMO_USER_PASSWORD", "password123"),
		MinPasswordLength: envInt("MIN_PASSWORD_LENGTH", 6),

		SecurityLogMax:  envInt("SECURITY_LOG_MAX", 1000),
		SecurityLogKeep: envInt("SECURITY_LOG_KEEP", 900),

		RateBurst:     envInt("RATE_LIMIT_BURST", 20),
		RatePerSecond: envInt("RATE_LIMIT_PER_SECOND", 10),
		MaxBodyBytes:  int64(envInt("MAX_BODY_BYTES", 1<<20)),

		AMQPURL:   envStr("AMQP_URL", ""),
		AMQPQueue: envStr("AMQP_QUEUE", "security.events"),

		S3Bucket:   envStr("S3_BUCKET", ""),
		S3Region:   envStr("S3_REGION", "us-east-1"),
		S3Endpoint: envStr("S3_ENDPOINT", ""),
		S3User:     envStr("S3_ACCESS_KEY", ""),
		S3Password: envStr("S3_SECRET_KEY", ""),
	}
}

// Validate checks cross-field rules.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "memory", "redis":
	case "sqlite", "postgres", "mysql":
		if c.StoreDSN == "" {
			errs = append(errs, fmt.Errorf("%sSTORE_DSN is required for driver %q", envPrefix, c.StoreDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	if c.MaxLoginAttempts < 1 {
		errs = append(errs, errors.New("max login attempts must be at least 1"))
	}
	if c.LockDuration <= 0 {
		errs = append(errs, errors.New("lock duration must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.SecurityLogKeep <= 0 || c.SecurityLogKeep > c.SecurityLogMax {
		errs = append(errs, errors.New("security log keep must be in (0, max]"))
	}
	if c.AdminEmail == "" || c.AdminPassword == "" {
		errs = append(errs, errors.New("admin email and password are required"))
	}
	if c.Env == "prod" && c.AdminPlaintext {
		errs = append(errs, errors.New("plaintext admin credentials are not allowed in prod"))
	}
	return errors.Join(errs...)
}

// ArchiveEnabled reports whether evicted security log entries go to S3.
func (c Config) ArchiveEnabled() bool { return c.S3Bucket != "" }

func envStr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + k)); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envPrefix + k))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(envPrefix + k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(envPrefix + k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
		return dur
	}
	return d
}
