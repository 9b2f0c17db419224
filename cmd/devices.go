package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidprobe-cli/internal/adb"
	"github.com/xkilldash9x/droidprobe-cli/internal/config"
	"github.com/xkilldash9x/droidprobe-cli/internal/observability"
)

type deviceRow struct {
	info  adb.Info
	model string
	sdk   string
}

// newDevicesCmd creates the `devices` command, which lists attached devices
// with their model and SDK level.
func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Lists attached Android devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			device, err := adb.New(cfg.ADB, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize adb: %w", err)
			}

			infos, err := device.Devices(ctx)
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices attached.")
				return nil
			}

			// Property lookups go over adb one device at a time; fan them out.
			rows := make([]deviceRow, len(infos))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(4)
			for i, info := range infos {
				g.Go(func() error {
					row := deviceRow{info: info}
					if info.State == "device" {
						probe, err := adb.New(config.ADBConfig{
							Path:           cfg.ADB.Path,
							DeviceID:       info.Serial,
							CommandTimeout: cfg.ADB.CommandTimeout,
							CaptureTimeout: cfg.ADB.CaptureTimeout,
						}, logger)
						if err != nil {
							return err
						}
						// Property failures leave the column blank; an
						// unauthorized device should not sink the listing.
						row.model, _ = probe.Property(gctx, "ro.product.model")
						row.sdk, _ = probe.Property(gctx, "ro.build.version.sdk")
					}
					rows[i] = row
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-24s %-12s %-20s %s\n", "SERIAL", "STATE", "MODEL", "SDK")
			for _, row := range rows {
				fmt.Fprintf(out, "%-24s %-12s %-20s %s\n", row.info.Serial, row.info.State, row.model, row.sdk)
			}
			return nil
		},
	}
}
