// Package config loads the score verifier's environment configuration.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/atmx/score-verifier/internal/replay"
	"github.com/atmx/score-verifier/internal/version"
)

// Config holds the service configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Identity and integrity providers
	IdentityJWTSecret   string `env:"IDENTITY_JWT_SECRET"`
	AttestationSecret   string `env:"ATTESTATION_SECRET"`
	AttestationAudience string `env:"ATTESTATION_AUDIENCE" envDefault:"score-verifier"`
	AttestationDisabled bool   `env:"ATTESTATION_DISABLED" envDefault:"false"`

	// Submission bounds
	MinEngineVersion     string `env:"MIN_ENGINE_VERSION" envDefault:"2.0.0"`
	MaxTradeLog          int    `env:"MAX_TRADE_LOG" envDefault:"5000"`
	MaxTick              uint32 `env:"MAX_TICK" envDefault:"36000"`
	RequestTimeoutMs     int    `env:"REQUEST_TIMEOUT_MS" envDefault:"10000"`
	SubmissionsPerMinute int    `env:"SUBMISSIONS_PER_MINUTE" envDefault:"6"`

	// Leaderboard
	CommitMaxAttempts int `env:"COMMIT_MAX_ATTEMPTS" envDefault:"8"`
	SnapshotEverySec  int `env:"SNAPSHOT_EVERY_SEC" envDefault:"60"`
	SnapshotTopN      int `env:"SNAPSHOT_TOP_N" envDefault:"100"`
	CacheTTLSec       int `env:"CACHE_TTL_SEC" envDefault:"30"`

	// Computed (not from env)
	MinVersion     version.Version `env:"-"`
	RequestTimeout time.Duration   `env:"-"`
	SnapshotEvery  time.Duration   `env:"-"`
	CacheTTL       time.Duration   `env:"-"`
}

// Load parses the environment and derives durations. Call Validate before use.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	cfg.SnapshotEvery = time.Duration(cfg.SnapshotEverySec) * time.Second
	cfg.CacheTTL = time.Duration(cfg.CacheTTLSec) * time.Second
	return cfg, nil
}

// Validate checks the configuration and parses MinEngineVersion.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	v, err := version.Parse(c.MinEngineVersion)
	if err != nil {
		return fmt.Errorf("MIN_ENGINE_VERSION: %w", err)
	}
	c.MinVersion = v
	if !version.MustParse(version.Engine).AtLeast(v) {
		return fmt.Errorf("MIN_ENGINE_VERSION %s is newer than the built-in engine %s", v, version.Engine)
	}

	if c.IdentityJWTSecret == "" {
		return fmt.Errorf("IDENTITY_JWT_SECRET is required")
	}
	if !c.AttestationDisabled && c.AttestationSecret == "" {
		return fmt.Errorf("ATTESTATION_SECRET is required unless ATTESTATION_DISABLED is set")
	}

	if c.MaxTradeLog <= 0 {
		return fmt.Errorf("MAX_TRADE_LOG must be positive")
	}
	if c.MaxTick == 0 {
		return fmt.Errorf("MAX_TICK must be positive")
	}
	// The interpreter refuses logs past its own bounds.
	engine := replay.DefaultConfig()
	if c.MaxTradeLog > engine.MaxActions {
		return fmt.Errorf("MAX_TRADE_LOG %d exceeds the engine limit %d", c.MaxTradeLog, engine.MaxActions)
	}
	if c.MaxTick > engine.MaxTick {
		return fmt.Errorf("MAX_TICK %d exceeds the engine limit %d", c.MaxTick, engine.MaxTick)
	}
	if c.RequestTimeout < 100*time.Millisecond {
		return fmt.Errorf("request timeout must be at least 100ms")
	}
	if c.SubmissionsPerMinute < 0 {
		return fmt.Errorf("SUBMISSIONS_PER_MINUTE must not be negative")
	}
	if c.CommitMaxAttempts <= 0 {
		return fmt.Errorf("COMMIT_MAX_ATTEMPTS must be positive")
	}
	if c.SnapshotEvery < time.Second {
		return fmt.Errorf("snapshot interval must be at least 1 second")
	}
	if c.SnapshotTopN <= 0 {
		return fmt.Errorf("SNAPSHOT_TOP_N must be positive")
	}
	if c.CacheTTL < time.Second {
		return fmt.Errorf("cache TTL must be at least 1 second")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
