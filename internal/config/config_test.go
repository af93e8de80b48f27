package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/logger"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reviewpilot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
github:
  owner: acme
review:
  concurrency: 7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.GitHub.Owner != "acme" {
		t.Errorf("Owner = %q, want acme", cfg.GitHub.Owner)
	}
	if cfg.Review.Concurrency != 7 {
		t.Errorf("Concurrency = %d, want 7", cfg.Review.Concurrency)
	}

	// Everything unset falls back to defaults.
	if cfg.Gateway.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", cfg.Gateway.MaxAttempts)
	}
	if cfg.Gateway.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 500ms", cfg.Gateway.BaseDelay)
	}
	if cfg.Review.Interval != 7*24*time.Hour {
		t.Errorf("Interval = %v, want 168h", cfg.Review.Interval)
	}
	if cfg.Dispatcher.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Dispatcher.Workers)
	}
	if cfg.GitHub.BaseURL != "https://api.github.com" {
		t.Errorf("BaseURL = %q", cfg.GitHub.BaseURL)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadDurations(t *testing.T) {
	path := writeConfig(t, `
github:
  owner: acme
gateway:
  base_delay: 250ms
  max_delay: 30s
  breaker_cooldown: 5m
review:
  interval: 72h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.BaseDelay != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v", cfg.Gateway.BaseDelay)
	}
	if cfg.Gateway.BreakerCooldown != 5*time.Minute {
		t.Errorf("BreakerCooldown = %v", cfg.Gateway.BreakerCooldown)
	}
	if cfg.Review.Interval != 72*time.Hour {
		t.Errorf("Interval = %v", cfg.Review.Interval)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "github: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("Load should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{GitHub: GitHub{Owner: "acme"}}
		applyDefaults(cfg)
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing owner", func(c *Config) { c.GitHub.Owner = "" }},
		{"zero attempts", func(c *Config) { c.Gateway.MaxAttempts = 0 }},
		{"negative base delay", func(c *Config) { c.Gateway.BaseDelay = -time.Second }},
		{"max below base", func(c *Config) { c.Gateway.MaxDelay = c.Gateway.BaseDelay / 2 }},
		{"zero concurrency", func(c *Config) { c.Review.Concurrency = 0 }},
		{"zero workers", func(c *Config) { c.Dispatcher.Workers = 0 }},
		{"zero poll interval", func(c *Config) { c.Dispatcher.PollInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should reject this config")
			}
		})
	}
}

func TestStaticGetter(t *testing.T) {
	cfg := &Config{GitHub: GitHub{Owner: "acme"}}
	g := NewStatic(cfg)
	if g.Config() != cfg {
		t.Error("Static should return the wrapped config")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `
github:
  owner: acme
review:
  concurrency: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := NewWatcher(path, cfg, logger.Discard())
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	next := `
github:
  owner: acme
review:
  concurrency: 9
`
	if err := os.WriteFile(path, []byte(next), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if w.Config().Review.Concurrency == 9 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("Concurrency = %d, want 9 after reload", w.Config().Review.Concurrency)
}

func TestWatcherKeepsPreviousOnInvalidReload(t *testing.T) {
	path := writeConfig(t, `
github:
  owner: acme
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := NewWatcher(path, cfg, logger.Discard())
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Invalid: owner removed.
	if err := os.WriteFile(path, []byte("review:\n  concurrency: 3\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := w.Config().GitHub.Owner; got != "acme" {
		t.Errorf("Owner = %q, want acme (previous config retained)", got)
	}
}
