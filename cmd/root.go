// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidprobe-cli/internal/config"
	"github.com/xkilldash9x/droidprobe-cli/internal/observability"
)

// NewRootCommand builds the droidprobe command tree. A fresh instance per
// invocation keeps flag state from leaking between executions in tests.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     "droidprobe",
		Short:   "Droidprobe explores Android UIs with a language model at the wheel.",
		Version: Version,
		// Usage on runtime errors is noise; errors are logged by Execute.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any subcommand, setting up config and logging.
			if err := initializeConfig(cfgFile); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				// Initialize a fallback logger so the failure is still visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "droidprobe-cli"})
				return fmt.Errorf("failed to load config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting droidprobe", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDevicesCmd())

	return rootCmd
}

// Execute runs the command tree under a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeConfig seeds defaults, then reads in config file and ENV
// variables if set.
func initializeConfig(cfgFile string) error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DROIDPROBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}
	return nil
}
