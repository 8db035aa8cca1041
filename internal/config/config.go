package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/crew/internal/sessions"
	"github.com/haasonsaas/crew/internal/team"
	"github.com/haasonsaas/crew/internal/workers"
)

// Config is the main configuration structure for the harness daemon.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Session  SessionConfig  `yaml:"session"`
	Credits  CreditsConfig  `yaml:"credits"`
	Team     TeamConfig     `yaml:"team"`
	Models   ModelsConfig   `yaml:"models"`
	Channels ChannelsConfig `yaml:"channels"`
	Workers  WorkersConfig  `yaml:"workers"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level     string   `yaml:"level"`
	Format    string   `yaml:"format"`
	AddSource bool     `yaml:"add_source"`
	Redact    []string `yaml:"redact"`
}

// SessionConfig sets daemon-wide session lifecycle defaults. Per-agent
// policies still override these.
type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	MaxDuration   time.Duration `yaml:"max_duration"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SummaryModel  string        `yaml:"summary_model"`
}

type CreditsConfig struct {
	SessionCap      int           `yaml:"session_cap"`
	LedgerRetention time.Duration `yaml:"ledger_retention"`
}

type TeamConfig struct {
	MaxHandoffs     int           `yaml:"max_handoffs"`
	HandoffCooldown time.Duration `yaml:"handoff_cooldown"`
	Triggers        TriggersConfig `yaml:"triggers"`
}

type TriggersConfig struct {
	BlockedTopics     []string `yaml:"blocked_topics"`
	ToolLoopThreshold int      `yaml:"tool_loop_threshold"`
	UncertaintyRun    int      `yaml:"uncertainty_run"`
}

type ModelsConfig struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Fallbacks       []string                  `yaml:"fallbacks"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type ChannelsConfig struct {
	SendMaxAttempts int           `yaml:"send_max_attempts"`
	SendBackoff     time.Duration `yaml:"send_backoff"`
}

type WorkersConfig struct {
	MaxPerTemplate int           `yaml:"max_per_template"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

type JobsConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = sessions.DefaultIdleTTL
	}
	if cfg.Session.MaxDuration == 0 {
		cfg.Session.MaxDuration = sessions.DefaultMaxDuration
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = 5 * time.Minute
	}
	if cfg.Session.SummaryModel == "" {
		cfg.Session.SummaryModel = sessions.DefaultSummaryModel
	}
	if cfg.Credits.SessionCap == 0 {
		cfg.Credits.SessionCap = sessions.DefaultSessionCreditCap
	}
	if cfg.Credits.LedgerRetention == 0 {
		cfg.Credits.LedgerRetention = 90 * 24 * time.Hour
	}
	if cfg.Team.MaxHandoffs == 0 {
		cfg.Team.MaxHandoffs = team.DefaultMaxHandoffs
	}
	if cfg.Team.HandoffCooldown == 0 {
		cfg.Team.HandoffCooldown = team.DefaultHandoffCooldown
	}
	if cfg.Team.Triggers.ToolLoopThreshold == 0 {
		cfg.Team.Triggers.ToolLoopThreshold = 3
	}
	if cfg.Team.Triggers.UncertaintyRun == 0 {
		cfg.Team.Triggers.UncertaintyRun = 3
	}
	if cfg.Models.DefaultProvider == "" {
		cfg.Models.DefaultProvider = "anthropic"
	}
	if cfg.Channels.SendMaxAttempts == 0 {
		cfg.Channels.SendMaxAttempts = 3
	}
	if cfg.Channels.SendBackoff == 0 {
		cfg.Channels.SendBackoff = 500 * time.Millisecond
	}
	if cfg.Workers.MaxPerTemplate == 0 {
		cfg.Workers.MaxPerTemplate = workers.DefaultMaxWorkers
	}
	if cfg.Workers.IdleTimeout == 0 {
		cfg.Workers.IdleTimeout = workers.DefaultIdleTimeout
	}
	if cfg.Jobs.SweepSchedule == "" {
		cfg.Jobs.SweepSchedule = "@every 5m"
	}
	if cfg.Jobs.PruneSchedule == "" {
		cfg.Jobs.PruneSchedule = "@daily"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Models.Providers) > 0 {
		if _, ok := cfg.Models.Providers[cfg.Models.DefaultProvider]; !ok {
			return fmt.Errorf("models.default_provider %q is not configured under models.providers", cfg.Models.DefaultProvider)
		}
		for _, name := range cfg.Models.Fallbacks {
			if _, ok := cfg.Models.Providers[name]; !ok {
				return fmt.Errorf("models.fallbacks entry %q is not configured under models.providers", name)
			}
		}
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}
	if cfg.Session.IdleTTL < 0 || cfg.Session.MaxDuration < 0 {
		return fmt.Errorf("session durations must not be negative")
	}
	if cfg.Credits.SessionCap < 0 {
		return fmt.Errorf("credits.session_cap must not be negative")
	}
	return nil
}
