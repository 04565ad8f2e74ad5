package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jandubois/mon/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/jandubois/mon/cmd.Version=..."
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mon",
	Short: "Plugin based monitoring with threshold status evaluation",
	Long: `mon runs self-describing plugins on probe hosts and sends their readings
to a collector, which evaluates them against threshold rules.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

const pluginGroupID = "plugins"

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: pluginGroupID, Title: "Built-in Plugins:"})
	rootCmd.PersistentFlags().StringP("database", "d", "", "SQLite database path (or DATABASE_PATH env)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	rootCmd.Flags().BoolP("version", "v", false, "Print version and exit")
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("mon version %s\n", Version)
			return
		}
		cmd.Help()
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("invalid log level %q", levelName)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func getDatabasePath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("database")
	if path == "" {
		path = os.Getenv("DATABASE_PATH")
	}
	if path == "" {
		path = config.DefaultDatabasePath
	}
	return path
}

func getConfigPath(cmd *cobra.Command, fallback string) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = fallback
	}
	return path
}
