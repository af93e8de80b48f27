package config

import "time"

// Config is the root configuration for reviewpilot.
type Config struct {
	Logging    Logging    `yaml:"logging"`
	Store      Store      `yaml:"store"`
	Gateway    Gateway    `yaml:"gateway"`
	GitHub     GitHub     `yaml:"github"`
	Reasoning  Reasoning  `yaml:"reasoning"`
	Review     Review     `yaml:"review"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Web        Web        `yaml:"web"`
}

// Logging configures structured log output.
type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

// Store configures the SQLite state store.
type Store struct {
	Path string `yaml:"path"` // defaults to ~/.reviewpilot/reviewpilot.db
}

// Gateway configures retry, backoff, and circuit breaking for all
// outbound service calls.
type Gateway struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// GitHub configures the code-hosting client.
type GitHub struct {
	BaseURL  string `yaml:"base_url"`
	TokenEnv string `yaml:"token_env"`
	Owner    string `yaml:"owner"` // user or org whose repositories are reviewed
	// SkipForks and SkipArchived filter discovery.
	SkipForks    bool `yaml:"skip_forks"`
	SkipArchived bool `yaml:"skip_archived"`
}

// Reasoning configures the analysis service client.
type Reasoning struct {
	Endpoint       string        `yaml:"endpoint"`
	Model          string        `yaml:"model"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	AnalyzeTimeout time.Duration `yaml:"analyze_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	CacheMaxBytes  int64         `yaml:"cache_max_bytes"`
}

// Review configures the per-repository pipeline and the batch orchestrator.
type Review struct {
	Concurrency    int           `yaml:"concurrency"`
	Interval       time.Duration `yaml:"interval"` // staleness threshold for re-review
	MaxFiles       int           `yaml:"max_files"`
	MaxBytes       int64         `yaml:"max_bytes"`
	ProposeChanges bool          `yaml:"propose_changes"`
	ReportDir      string        `yaml:"report_dir"` // defaults to ~/.reviewpilot/reports
}

// Dispatcher configures the ad-hoc task worker pool.
type Dispatcher struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Web configures the HTTP API server.
type Web struct {
	Addr string `yaml:"addr"`
}
