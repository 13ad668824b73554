// Package cmd implements the termctl command line.
package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/termctl/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "termctl",
	Short: "Drive terminal programs on virtual X displays",
	Long: `termctl runs terminal programs inside xterm on private Xvfb displays,
types into them with xdotool and captures the screen with ImageMagick.

Each session gets its own display number from a fixed pool, and every
process it starts is reclaimed when the session closes or fails.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx; canceling ctx closes every
// open session.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/termctl/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file instead of stderr")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
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
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TERMCTL")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TERMCTL_DISPLAY_POOL_SIZE for display.pool_size
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Short aliases for the logging keys
	_ = viper.BindEnv("logging.level", "TERMCTL_LOGGING_LEVEL", "LOG_LEVEL")
	_ = viper.BindEnv("logging.file", "TERMCTL_LOGGING_FILE", "LOG_FILE")

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
