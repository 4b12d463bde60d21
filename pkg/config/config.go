// Copyright 2025 Certen Protocol
//
// Node configuration loading from YAML, with ${VAR_NAME} environment
// variable substitution.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig holds all configuration for one validator-core node.
type NodeConfig struct {
	Environment string `yaml:"environment"`

	Identity   IdentitySettings   `yaml:"identity"`
	Consensus  ConsensusSettings  `yaml:"consensus"`
	Pool       PoolSettings       `yaml:"pool"`
	CrossShard CrossShardSettings `yaml:"cross_shard"`
	Database   DatabaseSettings   `yaml:"database"`
	Monitoring MonitoringSettings `yaml:"monitoring"`
}

// IdentitySettings identifies this node and the shard group it serves.
type IdentitySettings struct {
	PublicKeyHex   string `yaml:"public_key"`
	BLSKeyPath     string `yaml:"bls_key_path"`
	ShardGroup     uint32 `yaml:"shard_group"`
	OracleSource   string `yaml:"oracle_source"` // registry key, see pkg/epoch
}

// ConsensusSettings controls the HotStuff pipeline's pacing and caps.
type ConsensusSettings struct {
	ViewTimeout          Duration `yaml:"view_timeout"`
	BaseLayerPollInterval Duration `yaml:"base_layer_poll_interval"`
	MaxCommandsPerBlock  int      `yaml:"max_commands_per_block"`
	MaxLeaderFeePerBlock uint64   `yaml:"max_leader_fee_per_block"`
	MaxProposalBytes     int      `yaml:"max_proposal_bytes"`
	MissedProposalCap    uint64   `yaml:"missed_proposal_cap"`
}

// PoolSettings controls the transaction pool's admission and eviction.
type PoolSettings struct {
	MaxReadySetSize int `yaml:"max_ready_set_size"`
}

// CrossShardSettings controls foreign-proposal admission thresholds.
type CrossShardSettings struct {
	MinForeignQuorumFraction float64  `yaml:"min_foreign_quorum_fraction"`
	ParkedBlockTTL           Duration `yaml:"parked_block_ttl"`
}

// DatabaseSettings configures the Postgres-backed repository layer.
type DatabaseSettings struct {
	DSN               string   `yaml:"dsn"`
	MaxConnections    int      `yaml:"max_connections"`
	MinConnections    int      `yaml:"min_connections"`
	MaxIdleTime       Duration `yaml:"max_idle_time"`
	MaxLifetime       Duration `yaml:"max_lifetime"`
	AutoMigrate       bool     `yaml:"auto_migrate"`
	MigrationPath     string   `yaml:"migration_path"`
}

// MonitoringSettings configures metrics/health/log surfaces.
type MonitoringSettings struct {
	MetricsAddr string `yaml:"metrics_addr"`
	HealthAddr  string `yaml:"health_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Duration wraps time.Duration for YAML unmarshaling, accepting either a
// Go duration string ("5s") or a bare integer number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads a NodeConfig from a YAML file, substituting ${VAR} references
// against the process environment, then applying defaults.
func Load(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg NodeConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *NodeConfig) applyDefaults() {
	if c.Consensus.ViewTimeout == 0 {
		c.Consensus.ViewTimeout = Duration(5 * time.Second)
	}
	if c.Consensus.BaseLayerPollInterval == 0 {
		c.Consensus.BaseLayerPollInterval = Duration(15 * time.Second)
	}
	if c.Consensus.MaxCommandsPerBlock == 0 {
		c.Consensus.MaxCommandsPerBlock = 500
	}
	if c.Consensus.MaxProposalBytes == 0 {
		c.Consensus.MaxProposalBytes = 2 << 20
	}
	if c.Consensus.MissedProposalCap == 0 {
		c.Consensus.MissedProposalCap = 10
	}
	if c.Pool.MaxReadySetSize == 0 {
		c.Pool.MaxReadySetSize = 10_000
	}
	if c.CrossShard.MinForeignQuorumFraction == 0 {
		c.CrossShard.MinForeignQuorumFraction = 0.51
	}
	if c.CrossShard.ParkedBlockTTL == 0 {
		c.CrossShard.ParkedBlockTTL = Duration(10 * time.Minute)
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 25
	}
	if c.Database.MinConnections == 0 {
		c.Database.MinConnections = 5
	}
	if c.Database.MaxIdleTime == 0 {
		c.Database.MaxIdleTime = Duration(5 * time.Minute)
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = Duration(time.Hour)
	}
	if c.Database.MigrationPath == "" {
		c.Database.MigrationPath = "./migrations"
	}
	if c.Monitoring.MetricsAddr == "" {
		c.Monitoring.MetricsAddr = "0.0.0.0:9090"
	}
	if c.Monitoring.HealthAddr == "" {
		c.Monitoring.HealthAddr = "0.0.0.0:8081"
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Identity.OracleSource == "" {
		c.Identity.OracleSource = "static"
	}
}

// Validate checks that the fields required to start a node are present.
func (c *NodeConfig) Validate() error {
	var errs []string

	if c.Identity.PublicKeyHex == "" {
		errs = append(errs, "identity.public_key is required")
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Consensus.ViewTimeout.Duration() <= 0 {
		errs = append(errs, "consensus.view_timeout must be positive")
	}
	if c.CrossShard.MinForeignQuorumFraction <= 0 || c.CrossShard.MinForeignQuorumFraction > 1 {
		errs = append(errs, "cross_shard.min_foreign_quorum_fraction must be in (0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
