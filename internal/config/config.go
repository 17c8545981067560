// Package config loads the risk engine's YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atmx/risk-engine/internal/identity"
)

// Config is the root configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Ledger LedgerConfig `yaml:"ledger"`
	Risk   RiskConfig   `yaml:"risk"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LedgerConfig selects and tunes the ledger backend.
type LedgerConfig struct {
	// Kind is one of "memory", "postgres" or "rpc".
	Kind        string        `yaml:"kind"`
	// Fixture seeds the memory ledger from a JSON file.
	Fixture     string        `yaml:"fixture"`
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	RPC         RPCConfig     `yaml:"rpc"`
}

// RPCConfig tunes the HTTP ledger client.
type RPCConfig struct {
	URL               string        `yaml:"url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetries        int           `yaml:"max_retries"`
}

// RiskConfig configures the engines the service runs.
type RiskConfig struct {
	// Mode is "cached" or "live".
	Mode            string        `yaml:"mode"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// Accounts are tracked from startup, as "authority/subaccount".
	Accounts []string `yaml:"accounts"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Ledger: LedgerConfig{
			Kind:     "memory",
			CacheTTL: 30 * time.Second,
			RPC: RPCConfig{
				Timeout:           5 * time.Second,
				RequestsPerSecond: 25,
				Burst:             30,
				MaxRetries:        3,
			},
		},
		Risk: RiskConfig{
			Mode:            "cached",
			RefreshInterval: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads filename over the defaults, expanding ${VAR} references, then
// applies environment overrides. An empty filename uses defaults only.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the deployment environment override the file.
func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Ledger.DatabaseURL = url
		if c.Ledger.Kind == "memory" {
			c.Ledger.Kind = "postgres"
		}
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Ledger.RedisURL = url
	}
	if url := os.Getenv("LEDGER_RPC_URL"); url != "" {
		c.Ledger.RPC.URL = url
		c.Ledger.Kind = "rpc"
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	switch c.Ledger.Kind {
	case "memory":
	case "postgres":
		if c.Ledger.DatabaseURL == "" {
			problems = append(problems, "ledger.database_url is required for the postgres ledger")
		}
	case "rpc":
		if c.Ledger.RPC.URL == "" {
			problems = append(problems, "ledger.rpc.url is required for the rpc ledger")
		}
		if c.Ledger.RPC.RequestsPerSecond <= 0 {
			problems = append(problems, "ledger.rpc.requests_per_second must be positive")
		}
		if c.Ledger.RPC.MaxRetries < 0 {
			problems = append(problems, "ledger.rpc.max_retries must not be negative")
		}
	default:
		problems = append(problems, fmt.Sprintf("ledger.kind %q must be memory, postgres or rpc", c.Ledger.Kind))
	}
	if c.Ledger.RedisURL != "" && c.Ledger.CacheTTL <= 0 {
		problems = append(problems, "ledger.cache_ttl must be positive when redis is enabled")
	}

	switch c.Risk.Mode {
	case "cached":
		if c.Risk.RefreshInterval <= 0 {
			problems = append(problems, "risk.refresh_interval must be positive in cached mode")
		}
	case "live":
	default:
		problems = append(problems, fmt.Sprintf("risk.mode %q must be cached or live", c.Risk.Mode))
	}
	for _, a := range c.Risk.Accounts {
		if _, err := identity.Parse(a); err != nil {
			problems = append(problems, fmt.Sprintf("risk.accounts: %v", err))
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
