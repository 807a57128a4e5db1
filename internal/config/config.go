package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

var (
	ErrMissingDatabaseURL   = errors.New("DATABASE_URL is required for the postgres driver")
	ErrUnknownDriver        = errors.New("unknown database driver (use postgres or sqlite)")
	ErrUnknownPersistPolicy = errors.New("unknown persist failure policy (use keep, rollback or retry)")
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Persist failure policies.
const (
	PersistKeep     = "keep"
	PersistRollback = "rollback"
	PersistRetry    = "retry"
)

// Config holds application configuration (store, snapshot publishing, fetcher settings).
type Config struct {
	Driver      string `yaml:"database_driver" env:"DATABASE_DRIVER"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`

	RedisURL    string        `yaml:"redis_url" env:"REDIS_URL"`
	SnapshotKey string        `yaml:"snapshot_key" env:"SNAPSHOT_KEY"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`

	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
	PersistFailure string `yaml:"persist_failure" env:"PERSIST_FAILURE"`
	RetryAttempts  int    `yaml:"persist_retry_attempts" env:"PERSIST_RETRY_ATTEMPTS"`

	UserAgent      string        `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	Timeout        time.Duration `yaml:"timeout" env:"FETCHER_TIMEOUT"`
	TwitchClientID string        `yaml:"twitch_client_id" env:"TWITCH_CLIENT_ID"`
	TwitchToken    string        `yaml:"twitch_token" env:"TWITCH_TOKEN"`
	YouTubeAPIKey  string        `yaml:"youtube_api_key" env:"YOUTUBE_API_KEY"`
}

// Defaults returns a Config with every optional field set.
func Defaults() *Config {
	return &Config{
		Driver:         DriverSQLite,
		SQLitePath:     "data/rustla.sqlite",
		SnapshotKey:    "rustla:streams:api",
		SnapshotTTL:    5 * time.Minute,
		LogLevel:       "info",
		PersistFailure: PersistKeep,
		RetryAttempts:  5,
		UserAgent:      "Rustla2/1.0",
		Timeout:        15 * time.Second,
	}
}

// Load builds config from environment variables.
// If neither DATABASE_URL nor DATABASE_DRIVER is set, Load tries to load .env.local and
// .env from the current directory first.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" && os.Getenv("DATABASE_DRIVER") == "" {
		loadEnvFiles()
	}
	c := Defaults()
	setString(&c.Driver, "DATABASE_DRIVER")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.SQLitePath, "SQLITE_PATH")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.SnapshotKey, "SNAPSHOT_KEY")
	setDuration(&c.SnapshotTTL, "SNAPSHOT_TTL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.PersistFailure, "PERSIST_FAILURE")
	if s := os.Getenv("PERSIST_RETRY_ATTEMPTS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			c.RetryAttempts = n
		}
	}
	setString(&c.UserAgent, "FETCHER_USER_AGENT")
	setDuration(&c.Timeout, "FETCHER_TIMEOUT")
	setString(&c.TwitchClientID, "TWITCH_CLIENT_ID")
	setString(&c.TwitchToken, "TWITCH_TOKEN")
	setString(&c.YouTubeAPIKey, "YOUTUBE_API_KEY")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the fields that have a closed set of values.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	case DriverSQLite:
	default:
		return ErrUnknownDriver
	}
	switch c.PersistFailure {
	case PersistKeep, PersistRollback, PersistRetry:
	default:
		return ErrUnknownPersistPolicy
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			*dst = d
		}
	}
}
