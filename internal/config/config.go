// Package config handles TOML configuration parsing and validation for failoverd.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for a failoverd node.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Failover FailoverConfig `toml:"failover"`
}

// ServerConfig holds the node's own identity and logging settings.
type ServerConfig struct {
	// Role is either "primary" or "secondary".
	Role     string `toml:"role"`
	LogLevel string `toml:"log_level"`
	// MetricsListen is the address the Prometheus /metrics endpoint binds to.
	// Empty disables metrics serving.
	MetricsListen string `toml:"metrics_listen"`
}

// FailoverConfig mirrors spec.md §6's configuration object.
type FailoverConfig struct {
	PrimaryHost   string `toml:"primary_host"`
	SecondaryHost string `toml:"secondary_host"`
	ServerPort    int    `toml:"server_port"`
	HomePath      string `toml:"home_path"`
	AuthMethod    string `toml:"auth_method"`

	// SecondaryDelay is seconds the Secondary waits in NoHsk (or under stat
	// failure) before declaring takeover. -1 means "come up active
	// immediately" (operator-forced takeover at startup).
	SecondaryDelay int `toml:"secondary_delay"`

	// HandshakeTime is HANDSHAKE_TIME from spec.md §4.3, in seconds.
	// Defaults to 5 if zero.
	HandshakeTime int `toml:"handshake_time"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Failover.HandshakeTime == 0 {
		c.Failover.HandshakeTime = DefaultHandshakeTime
	}
	if c.Failover.HomePath == "" {
		c.Failover.HomePath = DefaultHomePath
	}
	if c.Failover.ServerPort == 0 {
		c.Failover.ServerPort = DefaultServerPort
	}
}

// Validate checks the config for the unrecoverable errors spec.md §7 calls
// "Configuration" errors: these are fatal at startup, never recovered by
// the state machine.
func (c *Config) Validate() error {
	switch c.Server.Role {
	case "primary", "secondary":
	default:
		return fmt.Errorf("server.role must be \"primary\" or \"secondary\", got %q", c.Server.Role)
	}
	if c.Failover.PrimaryHost == "" {
		return fmt.Errorf("failover.primary_host is required")
	}
	if c.Failover.SecondaryHost == "" {
		return fmt.Errorf("failover.secondary_host is required")
	}
	if c.Failover.ServerPort <= 0 || c.Failover.ServerPort > 65535 {
		return fmt.Errorf("failover.server_port %d out of range", c.Failover.ServerPort)
	}
	if c.Failover.HomePath == "" {
		return fmt.Errorf("failover.home_path is required")
	}
	return nil
}

// HandshakeInterval returns HANDSHAKE_TIME as a time.Duration.
func (c *FailoverConfig) HandshakeInterval() time.Duration {
	return time.Duration(c.HandshakeTime) * time.Second
}

// ImmediateTakeover reports whether the operator forced "no delay" startup
// (secondary_delay == -1 per spec.md §4.2).
func (c *FailoverConfig) ImmediateTakeover() bool {
	return c.SecondaryDelay == -1
}

// SecondaryDelayDuration returns the configured secondary_delay as a
// duration. Meaningless when ImmediateTakeover is true.
func (c *FailoverConfig) SecondaryDelayDuration() time.Duration {
	if c.SecondaryDelay < 0 {
		return 0
	}
	return time.Duration(c.SecondaryDelay) * time.Second
}
