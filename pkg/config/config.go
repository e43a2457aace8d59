// Package config loads node configuration from an optional YAML file with
// environment-variable overrides, following the same load-then-override
// precedence and ${VAR} expansion style used throughout this codebase's
// ancestry.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a trust-mesh node.
type Config struct {
	NodeID   string `yaml:"node_id"`
	DeviceID string `yaml:"device_id"`

	LedgerPath string `yaml:"ledger_path"`

	WindowSize          int `yaml:"window_size"`
	GossipPeerCapacity  int `yaml:"gossip_peer_capacity"`
	BatchSizeLimit      int `yaml:"batch_size_limit"`

	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	AttestationScheme string `yaml:"attestation_scheme"`

	// StrictAuthorityRegistry, when true (the default), admits only
	// AuthoritySignatures whose authority_id is registered. Set false to
	// also accept signatures from unregistered authorities that carry
	// their own embedded public key (bearer-style), as the original
	// router implementation allowed.
	StrictAuthorityRegistry bool `yaml:"strict_authority_registry"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig configures the optional audit/archival mirror. Empty Host
// means the mirror is disabled.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Enabled reports whether the Postgres audit mirror should be started.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Default returns a Config with safe standalone-node defaults.
func Default() *Config {
	return &Config{
		NodeID:             "node-1",
		DeviceID:           "device-1",
		LedgerPath:         "./data/ledger",
		WindowSize:         100,
		GossipPeerCapacity: 256,
		BatchSizeLimit:     100,
		HeartbeatTimeout:   5 * time.Second,
		HTTPAddr:           "0.0.0.0:8080",
		LogLevel:           "info",
		AttestationScheme:  "ed25519",

		StrictAuthorityRegistry: true,
	}
}

// Load reads configuration starting from Default(), optionally merging a
// YAML file (with ${VAR} environment substitution), and finally applying
// environment-variable overrides — env always wins over file, file always
// wins over built-in defaults.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", yamlPath, err)
		}
		expanded := substituteEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", yamlPath, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.NodeID = getEnv("NODE_ID", c.NodeID)
	c.DeviceID = getEnv("DEVICE_ID", c.DeviceID)
	c.LedgerPath = getEnv("LEDGER_PATH", c.LedgerPath)
	c.WindowSize = getEnvInt("WINDOW_SIZE", c.WindowSize)
	c.GossipPeerCapacity = getEnvInt("GOSSIP_PEER_CAPACITY", c.GossipPeerCapacity)
	c.BatchSizeLimit = getEnvInt("BATCH_SIZE_LIMIT", c.BatchSizeLimit)
	c.HeartbeatTimeout = getEnvDuration("HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AttestationScheme = getEnv("ATTESTATION_SCHEME", c.AttestationScheme)
	c.StrictAuthorityRegistry = getEnvBool("STRICT_AUTHORITY_REGISTRY", c.StrictAuthorityRegistry)

	c.Postgres.Host = getEnv("PGHOST", c.Postgres.Host)
	c.Postgres.Port = getEnvInt("PGPORT", c.Postgres.Port)
	c.Postgres.User = getEnv("PGUSER", c.Postgres.User)
	c.Postgres.Password = getEnv("PGPASSWORD", c.Postgres.Password)
	c.Postgres.Database = getEnv("PGDATABASE", c.Postgres.Database)
	c.Postgres.SSLMode = getEnv("PGSSLMODE", c.Postgres.SSLMode)
}

// Validate checks internal consistency of the loaded configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive")
	}
	if c.BatchSizeLimit <= 0 {
		return fmt.Errorf("batch_size_limit must be positive")
	}
	switch c.AttestationScheme {
	case "ed25519", "bls12-381":
	default:
		return fmt.Errorf("unsupported attestation_scheme %q", c.AttestationScheme)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			return iv
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
