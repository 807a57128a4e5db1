package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`
	SQLitePath     string `yaml:"sqlite_path"`

	RedisURL    string `yaml:"redis_url"`
	SnapshotKey string `yaml:"snapshot_key"`
	SnapshotTTL string `yaml:"snapshot_ttl"`

	LogLevel       string `yaml:"log_level"`
	PersistFailure string `yaml:"persist_failure"`
	RetryAttempts  int    `yaml:"persist_retry_attempts"`

	UserAgent      string `yaml:"user_agent"`
	Timeout        string `yaml:"timeout"`
	TwitchClientID string `yaml:"twitch_client_id"`
	TwitchToken    string `yaml:"twitch_token"`
	YouTubeAPIKey  string `yaml:"youtube_api_key"`
}

// LoadFromFile loads config from a YAML file. Unset keys keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := Defaults()
	overlay(&c.Driver, f.DatabaseDriver)
	overlay(&c.DatabaseURL, f.DatabaseURL)
	overlay(&c.SQLitePath, f.SQLitePath)
	overlay(&c.RedisURL, f.RedisURL)
	overlay(&c.SnapshotKey, f.SnapshotKey)
	overlay(&c.LogLevel, f.LogLevel)
	overlay(&c.PersistFailure, f.PersistFailure)
	overlay(&c.UserAgent, f.UserAgent)
	overlay(&c.TwitchClientID, f.TwitchClientID)
	overlay(&c.TwitchToken, f.TwitchToken)
	overlay(&c.YouTubeAPIKey, f.YouTubeAPIKey)
	if f.RetryAttempts > 0 {
		c.RetryAttempts = f.RetryAttempts
	}
	if f.SnapshotTTL != "" {
		if d, err := time.ParseDuration(f.SnapshotTTL); err == nil {
			c.SnapshotTTL = d
		}
	}
	if f.Timeout != "" {
		if d, err := time.ParseDuration(f.Timeout); err == nil {
			c.Timeout = d
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
