package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jandubois/mon/internal/config"
	"github.com/jandubois/mon/internal/probe"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run the probe agent",
	Long: `The probe discovers plugins in the services directory, registers them
with the collector and submits the readings of every active instance once
per interval.

SIGHUP reloads the configuration and rediscovers plugins. SIGINT and
SIGTERM stop the agent after the current plugin invocation.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	config.AddProbeFlags(probeCmd.Flags())
}

func runProbe(cmd *cobra.Command, args []string) error {
	loader := config.NewProbeLoader(cmd.Flags(), getConfigPath(cmd, config.DefaultProbeConfigPath))
	cfg, err := loader.Load()
	if errors.Is(err, config.ErrConfigNotFound) {
		slog.Warn("config file not found, using flags and defaults", "path", loader.Path())
	} else if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	control := probe.NewControl()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					slog.Info("reload signal received")
					control.RequestReload()
					continue
				}
				slog.Info("shutdown signal received", "signal", sig)
				control.RequestShutdown()
			}
		}
	}()

	slog.Info("starting probe",
		"name", cfg.Name,
		"server", cfg.ServerAddress,
		"services", cfg.ServicesDir,
		"interval", cfg.Interval,
	)
	return probe.New(cfg, loader, control).Run(ctx)
}
