package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jandubois/mon/internal/config"
	"github.com/jandubois/mon/internal/db"
	"github.com/jandubois/mon/internal/ingest"
	"github.com/jandubois/mon/internal/notify"
	"github.com/jandubois/mon/internal/web"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the collector",
	Long: `The collector accepts probe registrations and reading batches, evaluates
readings against threshold rules and records status transitions.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	config.AddServerFlags(serverCmd.Flags())
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServer(cmd.Flags(), path)
	if err != nil {
		return err
	}

	database, err := db.Connect(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	var notifier ingest.Notifier
	if cfg.Notify.Enabled() {
		levels, err := database.LoadLevels(ctx)
		if err != nil {
			return err
		}
		dispatcher := notify.NewDispatcher(cfg.Notify, levels)
		defer dispatcher.Wait()
		notifier = dispatcher
	}

	server, err := web.NewServer(ctx, database, cfg, notifier)
	if err != nil {
		return fmt.Errorf("server initialization failed: %w", err)
	}

	slog.Info("starting collector", "listen", cfg.Listen, "database", cfg.DatabasePath)
	return server.Run(ctx)
}
