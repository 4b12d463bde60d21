// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSubstitutesEnvVarsAndAppliesDefaults(t *testing.T) {
	t.Setenv("VALIDATOR_DSN", "postgres://example/db")
	os.Unsetenv("VALIDATOR_LOG_LEVEL")

	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	yamlContent := `
environment: staging
identity:
  public_key: "0xabc"
  bls_key_path: /data/bls.key
  shard_group: 3
database:
  dsn: ${VALIDATOR_DSN}
monitoring:
  log_level: ${VALIDATOR_LOG_LEVEL:-warn}
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.DSN != "postgres://example/db" {
		t.Fatalf("DSN = %q, want substituted env value", cfg.Database.DSN)
	}
	if cfg.Monitoring.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, want default fallback 'warn'", cfg.Monitoring.LogLevel)
	}
	if cfg.Consensus.ViewTimeout.Duration() != 5*time.Second {
		t.Fatalf("ViewTimeout = %v, want default 5s", cfg.Consensus.ViewTimeout.Duration())
	}
	if cfg.Consensus.MaxCommandsPerBlock != 500 {
		t.Fatalf("MaxCommandsPerBlock = %d, want default 500", cfg.Consensus.MaxCommandsPerBlock)
	}
	if cfg.Identity.OracleSource != "static" {
		t.Fatalf("OracleSource = %q, want default 'static'", cfg.Identity.OracleSource)
	}
}

func TestDurationUnmarshalsPlainSecondsAndGoDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	yamlContent := `
identity:
  public_key: "0xabc"
consensus:
  view_timeout: 2500ms
  base_layer_poll_interval: 30
database:
  dsn: postgres://x
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Consensus.ViewTimeout.Duration() != 2500*time.Millisecond {
		t.Fatalf("ViewTimeout = %v, want 2.5s", cfg.Consensus.ViewTimeout.Duration())
	}
	if cfg.Consensus.BaseLayerPollInterval.Duration() != 30*time.Second {
		t.Fatalf("BaseLayerPollInterval = %v, want 30s (bare integer as seconds)", cfg.Consensus.BaseLayerPollInterval.Duration())
	}
}

func TestValidateRequiresCoreFields(t *testing.T) {
	cfg := &NodeConfig{}
	cfg.applyDefaults()

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error for empty config")
	}
}

func TestValidateRejectsOutOfRangeForeignQuorumFraction(t *testing.T) {
	cfg := &NodeConfig{
		Identity: IdentitySettings{PublicKeyHex: "0xabc"},
		Database: DatabaseSettings{DSN: "postgres://x"},
	}
	cfg.applyDefaults()
	cfg.CrossShard.MinForeignQuorumFraction = 1.5

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for out-of-range foreign quorum fraction")
	}
}

func TestValidatePassesWithRequiredFields(t *testing.T) {
	cfg := &NodeConfig{
		Identity: IdentitySettings{PublicKeyHex: "0xabc"},
		Database: DatabaseSettings{DSN: "postgres://x"},
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
