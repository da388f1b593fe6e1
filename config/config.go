// Package config loads the service configuration from a YAML file with
// environment-variable fallbacks for secrets.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the full service configuration.
type Config struct {
	// API keys. Left empty in the file, they fall back to the environment.
	OpenAIKey    string `yaml:"openai_key"`
	AnthropicKey string `yaml:"anthropic_key"`

	// Model configuration.
	Provider       string  `yaml:"provider"` // openai or anthropic
	ReasoningModel string  `yaml:"reasoning_model"`
	DecisionModel  string  `yaml:"decision_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`

	// Capability endpoint serving the knowledge-base tools.
	Capabilities CapabilityConfig `yaml:"capabilities"`

	Redis    RedisConfig    `yaml:"redis"`
	Supabase SupabaseConfig `yaml:"supabase"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CapabilityConfig locates the tool-serving endpoint.
type CapabilityConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the session checkpoint store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// SessionTTLHours bounds idle checkpoint lifetime (0 = never expire).
	SessionTTLHours int `yaml:"session_ttl_hours"`
}

// SupabaseConfig holds the long-term profile store settings.
type SupabaseConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Table  string `yaml:"table"`
}

// ServerConfig holds the websocket server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// Load reads configuration from a YAML file, applies defaults and fills
// missing secrets from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) applyEnv() {
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.AnthropicKey == "" {
		c.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Supabase.URL == "" {
		c.Supabase.URL = os.Getenv("SUPABASE_URL")
	}
	if c.Supabase.APIKey == "" {
		c.Supabase.APIKey = os.Getenv("SUPABASE_API_KEY")
	}
	if c.Redis.Password == "" {
		c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
}

// Validate checks the settings a running service cannot do without.
func (c *Config) Validate() error {
	switch c.Provider {
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("config: openai provider selected but no API key configured")
		}
	case "anthropic":
		if c.AnthropicKey == "" {
			return fmt.Errorf("config: anthropic provider selected but no API key configured")
		}
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.Capabilities.URL == "" {
		return fmt.Errorf("config: capabilities.url is required")
	}
	return nil
}
