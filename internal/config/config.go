package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/quorumlabs/quorum/internal/agent"
)

// Config represents the complete Quorum configuration
type Config struct {
	Agents    map[string]AgentConfig `mapstructure:"agents"`
	Stages    map[string]StageConfig `mapstructure:"stages"`
	Retry     RetryConfig            `mapstructure:"retry"`
	Scheduler SchedulerConfig        `mapstructure:"scheduler"`
	Logging   LoggingConfig          `mapstructure:"logging"`
	Evidence  EvidenceConfig         `mapstructure:"evidence"`
}

// AgentConfig describes one agent CLI available to stage rosters
type AgentConfig struct {
	// Provider selects the agent family: "claude", "gemini", "codex", "qwen"
	Provider string `mapstructure:"provider"`
	// Command overrides the provider's default executable
	Command string `mapstructure:"command"`
	// Args overrides the provider's default baseline arguments
	Args []string `mapstructure:"args"`
	// Mode is the permission mode: "read-only" or "write" (default: "read-only")
	Mode string `mapstructure:"mode"`
	// TimeoutSeconds is the per-task execution timeout (default: 300)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// Env holds extra environment variables for this agent's processes
	Env map[string]string `mapstructure:"env"`
	// Disabled removes the agent from every roster without deleting its entry
	Disabled bool `mapstructure:"disabled"`
}

// Timeout returns the task timeout as a time.Duration
func (a *AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// AgentMode maps the configured mode string onto an agent.Mode
func (a *AgentConfig) AgentMode() agent.Mode {
	if a.Mode == "write" {
		return agent.ModeWrite
	}
	return agent.ModeReadOnly
}

// StageConfig describes one pipeline stage
type StageConfig struct {
	// Agents is the roster: names of configured agents to fan out to
	Agents []string `mapstructure:"agents"`
	// Threshold is the minimum agreement score the pipeline accepts
	// without flagging the result for review (default: 0.60)
	Threshold float64 `mapstructure:"threshold"`
	// PromptTemplate wraps the stage input; "{{.Input}}" marks where the
	// input goes. Empty passes the input through untouched.
	PromptTemplate string `mapstructure:"prompt_template"`
	// Env holds stage-wide environment variables, overriding same-named
	// agent variables for this stage's processes
	Env map[string]string `mapstructure:"env"`
}

// RetryConfig controls the per-task retry policy
type RetryConfig struct {
	// MaxAttempts is the total attempt budget per task, first try included (default: 4)
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseDelayMs is the wait before the first retry in milliseconds (default: 2000)
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	// MaxDelayMs caps the doubling backoff in milliseconds (default: 8000)
	MaxDelayMs int `mapstructure:"max_delay_ms"`
	// JitterFraction adds up to this fraction of random extra delay (default: 0.2)
	JitterFraction float64 `mapstructure:"jitter_fraction"`
}

// BaseDelay returns the base retry delay as a time.Duration
func (r *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap as a time.Duration
func (r *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// SchedulerConfig controls the stage worker pool
type SchedulerConfig struct {
	// MaxWorkers bounds concurrently running agent processes (default: 8)
	MaxWorkers int `mapstructure:"max_workers"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is the log file path; empty logs to stderr
	File string `mapstructure:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// EvidenceConfig controls where run evidence is recorded
type EvidenceConfig struct {
	// Enabled controls whether evidence is recorded at all (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Dir is where the evidence database and artifacts live.
	// Empty means ".quorum" relative to the working directory.
	// Supports ~ for home directory expansion.
	Dir string `mapstructure:"dir"`
}

// ResolveDir returns the resolved evidence directory path.
// If Dir is empty, it returns ".quorum" relative to baseDir.
// If Dir starts with ~, it expands to the user's home directory.
func (e *EvidenceConfig) ResolveDir(baseDir string) string {
	if e.Dir == "" {
		return filepath.Join(baseDir, ".quorum")
	}

	path := e.Dir
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	} else if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Agents: map[string]AgentConfig{
			"claude": {
				Provider:       "claude",
				Mode:           "read-only",
				TimeoutSeconds: 300,
			},
			"gemini": {
				Provider:       "gemini",
				Mode:           "read-only",
				TimeoutSeconds: 300,
			},
			"codex": {
				Provider:       "codex",
				Mode:           "read-only",
				TimeoutSeconds: 300,
			},
		},
		Stages: map[string]StageConfig{
			"review": {
				Agents:    []string{"claude", "gemini", "codex"},
				Threshold: 0.60,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:    4,
			BaseDelayMs:    2000,
			MaxDelayMs:     8000,
			JitterFraction: 0.2,
		},
		Scheduler: SchedulerConfig{
			MaxWorkers: 8,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Evidence: EvidenceConfig{
			Enabled: true,
			Dir:     "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Agent defaults
	for name, a := range defaults.Agents {
		viper.SetDefault("agents."+name+".provider", a.Provider)
		viper.SetDefault("agents."+name+".mode", a.Mode)
		viper.SetDefault("agents."+name+".timeout_seconds", a.TimeoutSeconds)
	}

	// Stage defaults
	for name, s := range defaults.Stages {
		viper.SetDefault("stages."+name+".agents", s.Agents)
		viper.SetDefault("stages."+name+".threshold", s.Threshold)
	}

	// Retry defaults
	viper.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	viper.SetDefault("retry.base_delay_ms", defaults.Retry.BaseDelayMs)
	viper.SetDefault("retry.max_delay_ms", defaults.Retry.MaxDelayMs)
	viper.SetDefault("retry.jitter_fraction", defaults.Retry.JitterFraction)

	// Scheduler defaults
	viper.SetDefault("scheduler.max_workers", defaults.Scheduler.MaxWorkers)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Evidence defaults
	viper.SetDefault("evidence.enabled", defaults.Evidence.Enabled)
	viper.SetDefault("evidence.dir", defaults.Evidence.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quorum")
	}
	// Fall back to ~/.config/quorum
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quorum"
	}
	return filepath.Join(home, ".config", "quorum")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidAgentModes returns the list of valid agent mode values
func ValidAgentModes() []string {
	return []string{"read-only", "write"}
}

// IsValidAgentMode checks if the given mode is valid
func IsValidAgentMode(mode string) bool {
	for _, valid := range ValidAgentModes() {
		if mode == valid {
			return true
		}
	}
	return false
}
