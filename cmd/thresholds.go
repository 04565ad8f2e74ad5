package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/jandubois/mon/internal/db"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show and override threshold rules",
}

var thresholdsShowCmd = &cobra.Command{
	Use:   "show PROBE SERVICE",
	Short: "Print the threshold rules of a plugin as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(ctx context.Context, database *db.DB) error {
			thresholds, err := database.Thresholds(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(thresholds)
		})
	},
}

var thresholdsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Store threshold overrides from a YAML file",
	Long: `The file maps plugin names to readings, readings to status names and
status names to bounds:

  disk-space:
    free_percent:
      warning: {min: 20}
      error: {min: 10}

Overrides replace the plugin defaults for the same reading and status and
survive later registrations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		probeName, _ := cmd.Flags().GetString("probe")
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		byService, err := parseThresholdFile(f)
		if err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		return withDatabase(cmd, func(ctx context.Context, database *db.DB) error {
			levels, err := database.LoadLevels(ctx)
			if err != nil {
				return err
			}
			services := make([]string, 0, len(byService))
			for service := range byService {
				services = append(services, service)
			}
			sort.Strings(services)
			for _, service := range services {
				if err := database.SetThresholds(ctx, probeName, service, byService[service], levels); err != nil {
					return fmt.Errorf("%s: %w", service, err)
				}
				slog.Info("thresholds stored", "probe", probeName, "service", service, "count", len(byService[service]))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(thresholdsCmd)
	thresholdsCmd.AddCommand(thresholdsShowCmd)
	thresholdsCmd.AddCommand(thresholdsImportCmd)

	thresholdsImportCmd.Flags().String("probe", "", "Probe the plugins belong to")
	thresholdsImportCmd.MarkFlagRequired("probe")
}

type bounds struct {
	Min *int64 `yaml:"min"`
	Max *int64 `yaml:"max"`
}

// parseThresholdFile reads service -> reading -> status -> bounds. Rules
// come out sorted by reading, then status name.
func parseThresholdFile(r io.Reader) (map[string][]db.Threshold, error) {
	var doc map[string]map[string]map[string]bounds
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, err
	}

	out := make(map[string][]db.Threshold, len(doc))
	for service, readings := range doc {
		var rules []db.Threshold
		for reading, statuses := range readings {
			for name, b := range statuses {
				if b.Min == nil && b.Max == nil {
					return nil, fmt.Errorf("%s: %s.%s has neither min nor max", service, reading, name)
				}
				rules = append(rules, db.Threshold{Reading: reading, Status: name, Min: b.Min, Max: b.Max})
			}
		}
		sort.Slice(rules, func(i, j int) bool {
			if rules[i].Reading != rules[j].Reading {
				return rules[i].Reading < rules[j].Reading
			}
			return rules[i].Status < rules[j].Status
		})
		out[service] = rules
	}
	return out, nil
}

// withDatabase opens the migrated database for the duration of fn.
func withDatabase(cmd *cobra.Command, fn func(ctx context.Context, database *db.DB) error) error {
	ctx := cmd.Context()
	database, err := db.Connect(ctx, getDatabasePath(cmd))
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return fn(ctx, database)
}
