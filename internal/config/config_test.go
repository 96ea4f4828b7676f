package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("IDENTITY_JWT_SECRET", "s")
	t.Setenv("ATTESTATION_SECRET", "a")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.MaxTradeLog != 5000 || cfg.MaxTick != 36000 {
		t.Errorf("bounds = %d/%d, want 5000/36000", cfg.MaxTradeLog, cfg.MaxTick)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.SnapshotEvery != time.Minute {
		t.Errorf("SnapshotEvery = %v, want 1m", cfg.SnapshotEvery)
	}
	if cfg.MinVersion.Major != 2 || cfg.MinVersion.Minor != 0 {
		t.Errorf("MinVersion = %v, want 2.0", cfg.MinVersion)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("SlogLevel = %v, want info", cfg.SlogLevel())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("IDENTITY_JWT_SECRET", "s")
	t.Setenv("ATTESTATION_DISABLED", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAX_TRADE_LOG", "10")
	t.Setenv("CACHE_TTL_SEC", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.AttestationDisabled || cfg.MaxTradeLog != 10 || cfg.CacheTTL != 5*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug", cfg.SlogLevel())
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"missing identity secret", map[string]string{"IDENTITY_JWT_SECRET": ""}},
		{"missing attestation secret", map[string]string{"ATTESTATION_SECRET": ""}},
		{"bad min version", map[string]string{"MIN_ENGINE_VERSION": "two"}},
		{"min version ahead of engine", map[string]string{"MIN_ENGINE_VERSION": "99.0.0"}},
		{"zero trade log", map[string]string{"MAX_TRADE_LOG": "0"}},
		{"trade log above engine limit", map[string]string{"MAX_TRADE_LOG": "5001"}},
		{"zero max tick", map[string]string{"MAX_TICK": "0"}},
		{"max tick above engine limit", map[string]string{"MAX_TICK": "36001"}},
		{"short timeout", map[string]string{"REQUEST_TIMEOUT_MS": "5"}},
		{"zero commit attempts", map[string]string{"COMMIT_MAX_ATTEMPTS": "0"}},
		{"zero snapshot interval", map[string]string{"SNAPSHOT_EVERY_SEC": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("IDENTITY_JWT_SECRET", "s")
			t.Setenv("ATTESTATION_SECRET", "a")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
