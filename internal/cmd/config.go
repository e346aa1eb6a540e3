package cmd

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify Quorum configuration",
	Long: `View or modify Quorum configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  quorum config set retry.max_attempts 6
  quorum config set scheduler.max_workers 4
  quorum config set logging.level debug

Valid keys:
  retry.max_attempts    - Attempts per agent before it fails terminally
  retry.base_delay_ms   - First retry delay in milliseconds
  retry.max_delay_ms    - Retry delay cap in milliseconds
  scheduler.max_workers - Agents run concurrently per stage
  logging.enabled       - Enable logging (true/false)
  logging.level         - Log level: debug, info, warn, error
  evidence.enabled      - Record runs to the evidence store (true/false)
  evidence.dir          - Evidence directory (default: .quorum)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/quorum/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Current configuration:")
	fmt.Fprintln(w)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(w, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(w, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "agents:")
	for _, name := range sortedKeys(cfg.Agents) {
		ac := cfg.Agents[name]
		fmt.Fprintf(w, "  %s:\n", name)
		fmt.Fprintf(w, "    provider: %s\n", ac.Provider)
		if ac.Command != "" {
			fmt.Fprintf(w, "    command: %s\n", ac.Command)
		}
		fmt.Fprintf(w, "    mode: %s\n", ac.Mode)
		fmt.Fprintf(w, "    timeout_seconds: %d\n", ac.TimeoutSeconds)
		if ac.Disabled {
			fmt.Fprintf(w, "    disabled: true\n")
		}
	}

	fmt.Fprintln(w, "stages:")
	for _, name := range sortedKeys(cfg.Stages) {
		stage := cfg.Stages[name]
		fmt.Fprintf(w, "  %s:\n", name)
		fmt.Fprintf(w, "    agents: %v\n", stage.Agents)
		fmt.Fprintf(w, "    threshold: %.2f\n", stage.Threshold)
	}

	fmt.Fprintln(w, "retry:")
	fmt.Fprintf(w, "  max_attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Fprintf(w, "  base_delay_ms: %d\n", cfg.Retry.BaseDelayMs)
	fmt.Fprintf(w, "  max_delay_ms: %d\n", cfg.Retry.MaxDelayMs)

	fmt.Fprintln(w, "scheduler:")
	fmt.Fprintf(w, "  max_workers: %d\n", cfg.Scheduler.MaxWorkers)

	fmt.Fprintln(w, "logging:")
	fmt.Fprintf(w, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(w, "  level: %s\n", cfg.Logging.Level)

	fmt.Fprintln(w, "evidence:")
	fmt.Fprintf(w, "  enabled: %v\n", cfg.Evidence.Enabled)
	if cfg.Evidence.Dir != "" {
		fmt.Fprintf(w, "  dir: %s\n", cfg.Evidence.Dir)
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"retry.max_attempts":    "int",
		"retry.base_delay_ms":   "int",
		"retry.max_delay_ms":    "int",
		"scheduler.max_workers": "int",
		"logging.enabled":       "bool",
		"logging.level":         "string",
		"evidence.enabled":      "bool",
		"evidence.dir":          "string",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'quorum config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue interface{}
	switch keyType {
	case "string":
		if key == "logging.level" && !slices.Contains(config.ValidLogLevels(), strings.ToLower(value)) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'quorum config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Quorum Configuration

# Agents available to stage rosters. Each agent wraps one CLI.
agents:
  claude:
    provider: claude
    mode: read-only
    timeout_seconds: 300
  gemini:
    provider: gemini
    mode: read-only
    timeout_seconds: 300
  codex:
    provider: codex
    mode: read-only
    timeout_seconds: 300

# Stages map a name to an agent roster and an agreement threshold.
stages:
  review:
    agents: [claude, gemini, codex]
    threshold: 0.60

# Retry behavior for transient agent failures
retry:
  max_attempts: 4
  base_delay_ms: 2000
  max_delay_ms: 8000

# How many agents run concurrently per stage
scheduler:
  max_workers: 8

# Structured JSON logging
logging:
  enabled: true
  level: info

# SQLite evidence store recording every run
evidence:
  enabled: true
  # dir: ~/.quorum
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), config.ConfigFile())
	return nil
}
