package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, defaults are applied to anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// ResolveDefaultPath returns the first config file found in the
// standard locations: ./reviewpilot.yaml, ~/.reviewpilot/config.yaml.
// Empty when none exists.
func ResolveDefaultPath() string {
	candidates := []string{"reviewpilot.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".reviewpilot", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadDefault loads the first config found in the standard locations.
// If none exists, a default config is returned.
func LoadDefault() (*Config, error) {
	if path := ResolveDefaultPath(); path != "" {
		return Load(path)
	}
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// DefaultStorePath returns ~/.reviewpilot/reviewpilot.db, creating the
// directory if needed.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".reviewpilot")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "reviewpilot.db"), nil
}

// applyDefaults fills in values that the file left unset.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = "reviewpilot"
	}

	if cfg.Gateway.MaxAttempts == 0 {
		cfg.Gateway.MaxAttempts = 4
	}
	if cfg.Gateway.BaseDelay == 0 {
		cfg.Gateway.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Gateway.MaxDelay == 0 {
		cfg.Gateway.MaxDelay = 60 * time.Second
	}
	if cfg.Gateway.CallTimeout == 0 {
		cfg.Gateway.CallTimeout = 30 * time.Second
	}
	if cfg.Gateway.BreakerThreshold == 0 {
		cfg.Gateway.BreakerThreshold = 5
	}
	if cfg.Gateway.BreakerCooldown == 0 {
		cfg.Gateway.BreakerCooldown = 2 * time.Minute
	}

	if cfg.GitHub.BaseURL == "" {
		cfg.GitHub.BaseURL = "https://api.github.com"
	}
	if cfg.GitHub.TokenEnv == "" {
		cfg.GitHub.TokenEnv = "GITHUB_TOKEN"
	}

	if cfg.Reasoning.Model == "" {
		cfg.Reasoning.Model = "gpt-4o-mini"
	}
	if cfg.Reasoning.APIKeyEnv == "" {
		cfg.Reasoning.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Reasoning.AnalyzeTimeout == 0 {
		cfg.Reasoning.AnalyzeTimeout = 5 * time.Minute
	}
	if cfg.Reasoning.CacheTTL == 0 {
		cfg.Reasoning.CacheTTL = time.Hour
	}
	if cfg.Reasoning.CacheMaxBytes == 0 {
		cfg.Reasoning.CacheMaxBytes = 32 << 20
	}

	if cfg.Review.Concurrency == 0 {
		cfg.Review.Concurrency = 3
	}
	if cfg.Review.Interval == 0 {
		cfg.Review.Interval = 7 * 24 * time.Hour
	}
	if cfg.Review.MaxFiles == 0 {
		cfg.Review.MaxFiles = 20
	}
	if cfg.Review.MaxBytes == 0 {
		cfg.Review.MaxBytes = 512 << 10
	}
	if cfg.Review.ReportDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Review.ReportDir = filepath.Join(home, ".reviewpilot", "reports")
		} else {
			cfg.Review.ReportDir = "reports"
		}
	}

	if cfg.Dispatcher.Workers == 0 {
		cfg.Dispatcher.Workers = 5
	}
	if cfg.Dispatcher.PollInterval == 0 {
		cfg.Dispatcher.PollInterval = time.Second
	}

	if cfg.Web.Addr == "" {
		cfg.Web.Addr = "127.0.0.1:8321"
	}
}
