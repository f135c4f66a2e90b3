// Package config loads service configuration from an optional YAML file and the
// environment.
package config

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at the YAML base file.
const FileEnv = "SMOKELOG_CONFIG_FILE"

// Store backends.
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Auth modes.
const (
	AuthJWT    = "jwt"
	AuthHeader = "header"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Supabase   SupabaseConfig   `yaml:"supabase"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Civil      CivilConfig      `yaml:"civil"`
	Auth       AuthConfig       `yaml:"auth"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Redis      RedisConfig      `yaml:"redis"`
	Violations ViolationsConfig `yaml:"violations"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SMOKELOG_HOST"`
	Port            int           `yaml:"port" env:"SMOKELOG_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SMOKELOG_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SMOKELOG_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SMOKELOG_SHUTDOWN_TIMEOUT"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" env:"SMOKELOG_STORE"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url" env:"SUPABASE_URL"`
	ServiceKey string `yaml:"service_key" env:"SUPABASE_SERVICE_KEY"`
}

type PostgresConfig struct {
	DSN          string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLife  time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate  bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// CivilConfig sets the fixed civil offset used for day, week and month boundaries.
type CivilConfig struct {
	OffsetHours int `yaml:"offset_hours" env:"SMOKELOG_CIVIL_OFFSET_HOURS"`
}

type AuthConfig struct {
	Mode          string   `yaml:"mode" env:"SMOKELOG_AUTH_MODE"`
	PublicKeyPath string   `yaml:"public_key_path" env:"JWT_PUBLIC_KEY_PATH"`
	Audience      string   `yaml:"audience" env:"JWT_AUDIENCE"`
	SkipPaths     []string `yaml:"skip_paths" env:"SMOKELOG_AUTH_SKIP_PATHS"`
}

// PublicKey reads the RS256 verification key.
func (a AuthConfig) PublicKey() (*rsa.PublicKey, error) {
	pem, err := os.ReadFile(filepath.Clean(a.PublicKeyPath))
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return key, nil
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

type RateLimitConfig struct {
	Enabled     bool    `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RPS         float64 `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst       int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
	CleanupSpec string  `yaml:"cleanup_spec" env:"RATE_LIMIT_CLEANUP_SPEC"`
}

// RedisConfig configures the optional cross-process commit guard.
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"REDIS_ADDR"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"REDIS_DB"`
	CommitGuard string        `yaml:"commit_guard" env:"SMOKELOG_COMMIT_GUARD"`
	GuardTTL    time.Duration `yaml:"guard_ttl" env:"SMOKELOG_COMMIT_GUARD_TTL"`
}

type ViolationsConfig struct {
	DefaultLimit int `yaml:"default_limit" env:"SMOKELOG_VIOLATIONS_DEFAULT_LIMIT"`
	MaxLimit     int `yaml:"max_limit" env:"SMOKELOG_VIOLATIONS_MAX_LIMIT"`
}

// Commit guard modes.
const (
	GuardNone  = "none"
	GuardLocal = "local"
	GuardRedis = "redis"
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:   LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{Backend: StoreSupabase},
		Postgres: PostgresConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnMaxLife:  30 * time.Minute,
		},
		Civil: CivilConfig{OffsetHours: 8},
		Auth: AuthConfig{
			Mode:      AuthJWT,
			SkipPaths: []string{"/health", "/metrics"},
		},
		CORS:      CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimit: RateLimitConfig{Enabled: true, RPS: 10, Burst: 20, CleanupSpec: "@every 5m"},
		Redis:     RedisConfig{CommitGuard: GuardNone, GuardTTL: 5 * time.Second},
		Violations: ViolationsConfig{
			DefaultLimit: 50,
			MaxLimit:     500,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// SMOKELOG_CONFIG_FILE, then environment variables (a .env file is read first
// when present). The result is validated.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFromPath(os.Getenv(FileEnv))
}

// LoadFromPath is Load without the .env step. An empty path skips the file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	c.Redis.CommitGuard = strings.ToLower(strings.TrimSpace(c.Redis.CommitGuard))
	c.Supabase.URL = strings.TrimRight(strings.TrimSpace(c.Supabase.URL), "/")
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	switch c.Store.Backend {
	case StoreSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return fmt.Errorf("supabase store requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres store requires DATABASE_URL")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Civil.OffsetHours < -12 || c.Civil.OffsetHours > 14 {
		return fmt.Errorf("civil offset %d hours out of range [-12, 14]", c.Civil.OffsetHours)
	}

	switch c.Auth.Mode {
	case AuthJWT:
		if c.Auth.PublicKeyPath == "" {
			return fmt.Errorf("jwt auth requires JWT_PUBLIC_KEY_PATH")
		}
	case AuthHeader:
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive rps and burst")
	}

	switch c.Redis.CommitGuard {
	case GuardNone, GuardLocal:
	case GuardRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis commit guard requires REDIS_ADDR")
		}
		if c.Redis.GuardTTL <= 0 {
			return fmt.Errorf("redis commit guard requires a positive ttl")
		}
	default:
		return fmt.Errorf("unknown commit guard %q", c.Redis.CommitGuard)
	}

	if c.Violations.DefaultLimit <= 0 || c.Violations.MaxLimit < c.Violations.DefaultLimit {
		return fmt.Errorf("violation limits must satisfy 0 < default <= max")
	}
	return nil
}
