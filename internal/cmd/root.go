package cmd

import (
	"strings"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Run AI coding agents in parallel and synthesize a consensus",
	Long: `Quorum fans a prompt out to multiple AI coding agents (Claude, Gemini,
Codex, or any local command), collects their answers, and synthesizes a
single consensus decision with an agreement score. Stages are defined in
the config file; each stage names its agent roster and agreement threshold.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/quorum/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/quorum")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("QUORUM")
	// Replace dots with underscores for nested keys in env vars
	// e.g., QUORUM_SCHEDULER_MAX_WORKERS for scheduler.max_workers
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
