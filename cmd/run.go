package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidprobe-cli/internal/adb"
	"github.com/xkilldash9x/droidprobe-cli/internal/agent"
	"github.com/xkilldash9x/droidprobe-cli/internal/config"
	"github.com/xkilldash9x/droidprobe-cli/internal/llmclient"
	"github.com/xkilldash9x/droidprobe-cli/internal/observability"
	"github.com/xkilldash9x/droidprobe-cli/internal/runstore"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [goal...]",
		Short: "Starts an exploration run with the given natural-language goal",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line values override
			// the config file and environment with the right precedence.
			if err := viper.BindPFlag("adb.device_id", cmd.Flags().Lookup("device")); err != nil {
				return err
			}
			if err := viper.BindPFlag("llm.provider", cmd.Flags().Lookup("provider")); err != nil {
				return err
			}
			if err := viper.BindPFlag("llm.model", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_turns", cmd.Flags().Lookup("max-turns")); err != nil {
				return err
			}
			return viper.BindPFlag("agent.max_consecutive_failures", cmd.Flags().Lookup("max-failures"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize config with flag overrides: %w", err)
			}

			goal := strings.Join(args, " ")
			logger.Info("Starting exploration run",
				zap.String("goal", goal),
				zap.String("provider", string(cfg.LLM.Provider)),
				zap.String("model", cfg.LLM.Model),
				zap.String("device_id", cfg.ADB.DeviceID),
			)

			device, err := adb.New(cfg.ADB, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize adb: %w", err)
			}

			client, err := llmclient.NewClient(cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize decision client: %w", err)
			}
			defer func() {
				if closeErr := client.Close(); closeErr != nil {
					logger.Warn("Failed to close decision client", zap.Error(closeErr))
				}
			}()

			loop := agent.New(cfg.Agent, device, client, logger)
			state, err := loop.Run(ctx, goal)
			if err != nil {
				var serr *agent.StartupError
				if errors.As(err, &serr) {
					return serr
				}
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted by user signal")
					if state != nil {
						persistRun(context.Background(), cfg, state, logger)
					}
					return err
				}
				return err
			}

			persistRun(ctx, cfg, state, logger)
			printRunSummary(cmd, state)

			if state.Status == agent.StatusFailed {
				return fmt.Errorf("run failed: %s", state.Reason)
			}
			return nil
		},
	}

	runCmd.Flags().StringP("device", "d", "", "serial of the target device (default: the only attached device)")
	runCmd.Flags().String("provider", "", "decision backend: ollama or gemini")
	runCmd.Flags().StringP("model", "m", "", "model name to use for decisions")
	runCmd.Flags().Int("max-turns", 0, "hard cap on loop iterations (0 = unbounded)")
	runCmd.Flags().Int("max-failures", 0, "consecutive failures tolerated before aborting")

	return runCmd
}

// persistRun writes the terminal run state to PostgreSQL when storage is
// configured. Persistence failures are logged, never fatal: the run result
// on stdout is the primary output.
func persistRun(ctx context.Context, cfg *config.Config, state *agent.RunState, logger *zap.Logger) {
	if !cfg.Storage.Enabled || state == nil {
		return
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.URL)
	if err != nil {
		logger.Error("Failed to connect to run storage", zap.Error(err))
		return
	}

	store, err := runstore.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		logger.Error("Failed to initialize run storage", zap.Error(err))
		return
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("Failed to ensure run storage schema", zap.Error(err))
		return
	}
	if err := store.SaveRun(ctx, state); err != nil {
		logger.Error("Failed to persist run", zap.Error(err))
		return
	}
	logger.Info("Run persisted", zap.String("run_id", state.RunID))
}

func printRunSummary(cmd *cobra.Command, state *agent.RunState) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", state.RunID, state.Status)
	if state.Reason != "" {
		fmt.Fprintf(out, "Reason: %s\n", state.Reason)
	}
	fmt.Fprintf(out, "Turns: %d\n", len(state.Turns))
	if !state.EndedAt.IsZero() {
		fmt.Fprintf(out, "Duration: %s\n", state.EndedAt.Sub(state.StartedAt).Round(time.Millisecond))
	}
}
