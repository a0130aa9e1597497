// ABOUTME: Configuration loading and parsing for skyhook binaries.
// ABOUTME: YAML files with environment variable expansion and durations.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the file leaves a field unset.
const (
	DefaultProxyTimeout = 30 * time.Second
	DefaultLocalTimeout = 30 * time.Second
	DefaultMaxBodyBytes = 32 << 20 // 32 MiB
)

// Config is the complete configuration for both skyhook binaries. The
// manager reads server, proxy, and logging; the agent reads agent and
// logging.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the manager's listen address and the shared token
// agents present during the WebSocket handshake.
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	AuthToken string `yaml:"auth_token"`
}

// ProxyConfig bounds tunneled exchanges at the ingress.
type ProxyConfig struct {
	RequestTimeout time.Duration `yaml:"-"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// AgentConfig holds the agent's identity and its two endpoints: the manager
// it dials out to and the local service it fronts.
type AgentConfig struct {
	ID           string        `yaml:"id"`
	ManagerURL   string        `yaml:"manager_url"`
	AuthToken    string        `yaml:"auth_token"`
	LocalURL     string        `yaml:"local_url"`
	LocalTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	LocalTimeoutRaw string `yaml:"local_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed. Validation is per-binary: call
// ValidateServer or ValidateAgent after Load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ValidateServer checks the fields the manager binary needs.
func (c *Config) ValidateServer() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.AuthToken == "" {
		return fmt.Errorf("server.auth_token is required")
	}
	return nil
}

// ValidateAgent checks the fields the agent binary needs.
func (c *Config) ValidateAgent() error {
	if c.Agent.ID == "" {
		return fmt.Errorf("agent.id is required")
	}
	if c.Agent.ManagerURL == "" {
		return fmt.Errorf("agent.manager_url is required")
	}
	if c.Agent.AuthToken == "" {
		return fmt.Errorf("agent.auth_token is required")
	}
	if c.Agent.LocalURL == "" {
		return fmt.Errorf("agent.local_url is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration
// values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Proxy.RequestTimeoutRaw != "" {
		cfg.Proxy.RequestTimeout, err = time.ParseDuration(cfg.Proxy.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Proxy.RequestTimeoutRaw, err)
		}
	}

	if cfg.Agent.LocalTimeoutRaw != "" {
		cfg.Agent.LocalTimeout, err = time.ParseDuration(cfg.Agent.LocalTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing local_timeout %q: %w", cfg.Agent.LocalTimeoutRaw, err)
		}
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Proxy.RequestTimeout == 0 {
		cfg.Proxy.RequestTimeout = DefaultProxyTimeout
	}
	if cfg.Proxy.MaxBodyBytes == 0 {
		cfg.Proxy.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Agent.LocalTimeout == 0 {
		cfg.Agent.LocalTimeout = DefaultLocalTimeout
	}
}
