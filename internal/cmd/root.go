package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "wamux",
	Short: "Multi-session messaging client manager",
	Long: `wamux runs many independent browser-backed messaging sessions in one
process. Each session keeps its credentials in its own directory under the
sessions root and is restored on startup. Client events are forwarded to a
webhook and to per-session websocket subscribers.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/wamux/config.yaml)")
	rootCmd.PersistentFlags().String("sessions", "", "sessions root directory (overrides sessions.path)")
}

func initConfig() {
	// Bindings are re-applied on every run so tests can reset viper.
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("sessions.path", rootCmd.PersistentFlags().Lookup("sessions"))

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
	viper.SetEnvPrefix(config.EnvPrefix)
	// e.g. WAMUX_WEBHOOK_BASE_URL for webhook.base_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Level,
		Format: cfg.Format,
		File:   cfg.File,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		},
	})
}
