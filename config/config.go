package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Sleep      SleepConfig      `yaml:"sleep"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// MonitorConfig holds the presence monitor configuration.
type MonitorConfig struct {
	Enabled                      bool          `yaml:"enabled"`
	PollIntervalSeconds          int           `yaml:"poll_interval_seconds"`
	PollInterval                 time.Duration `yaml:"-"`
	PotentialAFKMinutes          float64       `yaml:"potential_afk_minutes"`
	ConfirmedAFKMinutes          float64       `yaml:"confirmed_afk_minutes"`
	SegmentUpdateIntervalMinutes int           `yaml:"segment_update_interval_minutes"`
	RecoverMaxAgeMinutes         int           `yaml:"recover_max_age_minutes"`
	Sampler                      SamplerConfig `yaml:"sampler"`
}

// SamplerConfig selects and configures the OS idle-time source.
type SamplerConfig struct {
	// Kind is "command" or "http".
	Kind           string            `yaml:"kind"`
	Command        []string          `yaml:"command"`
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	HTTPProxy      string            `yaml:"http_proxy"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// SleepConfig holds the night window and inference tuning.
type SleepConfig struct {
	Timezone              string `yaml:"timezone"`
	WindowStartHour       int    `yaml:"window_start_hour"`
	WindowEndHour         int    `yaml:"window_end_hour"`
	WakeDividerHour       int    `yaml:"wake_divider_hour"`
	WakeDividerMinute     int    `yaml:"wake_divider_minute"`
	MinSleepMinutes       int    `yaml:"min_sleep_minutes"`
	MergeGapMinutes       int    `yaml:"merge_gap_minutes"`
	DefaultSleepStartHour int    `yaml:"default_sleep_start_hour"`
	DefaultSleepEndHour   int    `yaml:"default_sleep_end_hour"`
}

// PipelineConfig holds the stage scheduler configuration.
type PipelineConfig struct {
	Enabled                bool          `yaml:"enabled"`
	RefreshIntervalSeconds int           `yaml:"refresh_interval_seconds"`
	RefreshInterval        time.Duration `yaml:"-"`
	BoundaryHour           int           `yaml:"boundary_hour"`
	Timezone               string        `yaml:"timezone"`
	ResourcesDir           string        `yaml:"resources_dir"`
	ContinueOnStageError   bool          `yaml:"continue_on_stage_error"`
	Stages                 []StageConfig `yaml:"stages"`
}

// StageConfig declares one pipeline stage and its run policy.
type StageConfig struct {
	ID        string          `yaml:"id"`
	Enabled   bool            `yaml:"enabled"`
	RunPolicy RunPolicyConfig `yaml:"run_policy"`
}

// RunPolicyConfig describes when a stage runs.
type RunPolicyConfig struct {
	// Kind is "always", "on_new_chat" or "on_boundary_cross".
	Kind                  string `yaml:"kind"`
	MinIntervalSeconds    int    `yaml:"min_interval_seconds"`
	CursorKey             string `yaml:"cursor_key"`
	LookbackHoursIfMissing int   `yaml:"lookback_hours_if_missing"`
	MinNewMessages        int    `yaml:"min_new_messages"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Monitor.PollIntervalSeconds <= 0 {
		cfg.Monitor.PollIntervalSeconds = 5
	}
	cfg.Monitor.PollInterval = time.Duration(cfg.Monitor.PollIntervalSeconds) * time.Second

	if cfg.Monitor.PotentialAFKMinutes <= 0 {
		cfg.Monitor.PotentialAFKMinutes = 3
	}
	if cfg.Monitor.ConfirmedAFKMinutes <= 0 {
		cfg.Monitor.ConfirmedAFKMinutes = 10
	}
	if cfg.Monitor.ConfirmedAFKMinutes < cfg.Monitor.PotentialAFKMinutes {
		return nil, fmt.Errorf("monitor: confirmed_afk_minutes (%v) must be >= potential_afk_minutes (%v)",
			cfg.Monitor.ConfirmedAFKMinutes, cfg.Monitor.PotentialAFKMinutes)
	}
	if cfg.Monitor.SegmentUpdateIntervalMinutes <= 0 {
		cfg.Monitor.SegmentUpdateIntervalMinutes = 5
	}
	if cfg.Monitor.RecoverMaxAgeMinutes <= 0 {
		cfg.Monitor.RecoverMaxAgeMinutes = 30
	}
	if cfg.Monitor.Sampler.TimeoutSeconds <= 0 {
		cfg.Monitor.Sampler.TimeoutSeconds = 10
	}
	if cfg.Monitor.Sampler.Kind == "" {
		cfg.Monitor.Sampler.Kind = "command"
	}

	if cfg.Sleep.WindowStartHour <= 0 {
		cfg.Sleep.WindowStartHour = 21
	}
	if cfg.Sleep.WindowEndHour <= 0 {
		cfg.Sleep.WindowEndHour = 9
	}
	if cfg.Sleep.WakeDividerHour <= 0 {
		cfg.Sleep.WakeDividerHour = 5
	}
	if cfg.Sleep.WakeDividerMinute < 0 || cfg.Sleep.WakeDividerMinute > 59 {
		cfg.Sleep.WakeDividerMinute = 30
	}
	if cfg.Sleep.MinSleepMinutes <= 0 {
		cfg.Sleep.MinSleepMinutes = 30
	}
	if cfg.Sleep.MergeGapMinutes <= 0 {
		cfg.Sleep.MergeGapMinutes = 30
	}
	if cfg.Sleep.DefaultSleepStartHour <= 0 {
		cfg.Sleep.DefaultSleepStartHour = 23
	}
	if cfg.Sleep.DefaultSleepEndHour <= 0 {
		cfg.Sleep.DefaultSleepEndHour = 7
	}

	if cfg.Pipeline.RefreshIntervalSeconds <= 0 {
		cfg.Pipeline.RefreshIntervalSeconds = 60
	}
	cfg.Pipeline.RefreshInterval = time.Duration(cfg.Pipeline.RefreshIntervalSeconds) * time.Second
	if cfg.Pipeline.BoundaryHour <= 0 || cfg.Pipeline.BoundaryHour > 23 {
		cfg.Pipeline.BoundaryHour = 5
	}
	if cfg.Pipeline.ResourcesDir == "" {
		cfg.Pipeline.ResourcesDir = "./resources"
	}
	for i := range cfg.Pipeline.Stages {
		p := &cfg.Pipeline.Stages[i].RunPolicy
		if p.Kind == "" {
			p.Kind = "always"
		}
		if p.LookbackHoursIfMissing <= 0 {
			p.LookbackHoursIfMissing = 24
		}
		if p.MinNewMessages <= 0 {
			p.MinNewMessages = 1
		}
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
