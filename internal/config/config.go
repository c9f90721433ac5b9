// Package config loads and persists the process configuration: provider
// credentials, defaults, and runtime limits. The on-disk form is a single
// JSON document under the data directory. Credentials may alternatively come
// from {PROVIDER}_API_KEY environment variables; explicit file configuration
// wins.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProviderCreds holds credential material for one model provider.
type ProviderCreds struct {
	APIKey string `json:"apiKey" mapstructure:"apiKey"`
}

// Config is the process configuration document.
type Config struct {
	Providers               map[string]ProviderCreds `json:"providers" mapstructure:"providers"`
	DefaultProvider         string                   `json:"defaultProvider" mapstructure:"defaultProvider"`
	DefaultModel            string                   `json:"defaultModel" mapstructure:"defaultModel"`
	OllamaHost              string                   `json:"ollamaHost" mapstructure:"ollamaHost"`
	MaxConcurrentExecutions int                      `json:"maxConcurrentExecutions" mapstructure:"maxConcurrentExecutions"`
	MaxRetries              int                      `json:"maxRetries" mapstructure:"maxRetries"`
	RetryDelay              time.Duration            `json:"retryDelay" mapstructure:"retryDelay"`
	LogLevel                string                   `json:"logLevel" mapstructure:"logLevel"`
	DatabaseURL             string                   `json:"databaseUrl" mapstructure:"databaseUrl"`
	WorkspaceDir            string                   `json:"workspaceDir" mapstructure:"workspaceDir"`

	path string
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		Providers:               map[string]ProviderCreds{},
		DefaultProvider:         "ollama",
		DefaultModel:            "llama3.2",
		OllamaHost:              "http://localhost:11434",
		MaxConcurrentExecutions: 10,
		MaxRetries:              2,
		RetryDelay:              time.Second,
		LogLevel:                "info",
	}
}

// HomeDir resolves the data directory: $WEFT_HOME or ~/.weft.
func HomeDir() (string, error) {
	if dir := os.Getenv("WEFT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".weft"), nil
}

// Load reads the configuration at path, creating it with defaults on first
// run. An empty path resolves to <data dir>/config.json.
func Load(path string) (*Config, error) {
	if path == "" {
		dir, err := HomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "config.json")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.path = path
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (c *Config) Path() string { return c.path }

// APIKey resolves the credential for a provider: explicit configuration
// first, then the {PROVIDER}_API_KEY environment variable.
func (c *Config) APIKey(provider string) string {
	if creds, ok := c.Providers[provider]; ok && creds.APIKey != "" {
		return creds.APIKey
	}
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}

// SetAPIKey stores a credential for a provider.
func (c *Config) SetAPIKey(provider, key string) {
	if c.Providers == nil {
		c.Providers = map[string]ProviderCreds{}
	}
	c.Providers[provider] = ProviderCreds{APIKey: key}
}

// Snapshot returns an immutable copy handed to executions; mutations to the
// live configuration after an execution starts are not observed by it.
func (c *Config) Snapshot() Config {
	cp := *c
	cp.Providers = make(map[string]ProviderCreds, len(c.Providers))
	for k, v := range c.Providers {
		cp.Providers[k] = v
	}
	return cp
}

// Get returns a top-level value by its JSON key name, for the CLI config
// command.
func (c *Config) Get(key string) (any, bool) {
	switch key {
	case "defaultProvider":
		return c.DefaultProvider, true
	case "defaultModel":
		return c.DefaultModel, true
	case "ollamaHost":
		return c.OllamaHost, true
	case "maxConcurrentExecutions":
		return c.MaxConcurrentExecutions, true
	case "maxRetries":
		return c.MaxRetries, true
	case "retryDelay":
		return c.RetryDelay.String(), true
	case "logLevel":
		return c.LogLevel, true
	case "databaseUrl":
		return c.DatabaseURL, true
	case "workspaceDir":
		return c.WorkspaceDir, true
	}
	return nil, false
}

// Set assigns a top-level value by its JSON key name.
func (c *Config) Set(key, value string) error {
	switch key {
	case "defaultProvider":
		c.DefaultProvider = value
	case "defaultModel":
		c.DefaultModel = value
	case "ollamaHost":
		c.OllamaHost = value
	case "maxConcurrentExecutions":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.MaxConcurrentExecutions = n
	case "maxRetries":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.MaxRetries = n
	case "retryDelay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.RetryDelay = d
	case "logLevel":
		c.LogLevel = value
	case "databaseUrl":
		c.DatabaseURL = value
	case "workspaceDir":
		c.WorkspaceDir = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative: %d", n)
	}
	return n, nil
}
