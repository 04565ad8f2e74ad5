package cmd

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/jandubois/mon/internal/db"
	"github.com/spf13/cobra"
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage monitored instances",
}

var instanceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Bind a plugin of a probe to a new monitored instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		probeName, _ := cmd.Flags().GetString("probe")
		pluginName, _ := cmd.Flags().GetString("plugin")
		name, _ := cmd.Flags().GetString("name")
		options, _ := cmd.Flags().GetStringToString("option")
		return withDatabase(cmd, func(ctx context.Context, database *db.DB) error {
			inst, err := database.AddInstance(ctx, db.NewInstance{
				Probe:   probeName,
				Service: pluginName,
				Name:    name,
				Options: options,
			})
			if err != nil {
				return err
			}
			return printInstance(ctx, database, inst)
		})
	},
}

var instanceShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print an instance with its status history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		return withDatabase(cmd, func(ctx context.Context, database *db.DB) error {
			inst, err := database.GetInstance(ctx, id)
			if err != nil {
				return err
			}
			return printInstance(ctx, database, inst)
		})
	},
}

var instanceSetStatusCmd = &cobra.Command{
	Use:   "set-status",
	Short: "Suspend or resume polling of an instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("id")
		lifecycle, _ := cmd.Flags().GetString("status")
		return withDatabase(cmd, func(ctx context.Context, database *db.DB) error {
			return database.SetLifecycle(ctx, id, lifecycle)
		})
	},
}

func init() {
	rootCmd.AddCommand(instanceCmd)
	instanceCmd.AddCommand(instanceAddCmd)
	instanceCmd.AddCommand(instanceShowCmd)
	instanceCmd.AddCommand(instanceSetStatusCmd)

	instanceAddCmd.Flags().String("probe", "", "Probe the plugin runs on")
	instanceAddCmd.Flags().String("plugin", "", "Plugin name")
	instanceAddCmd.Flags().String("name", "", "Instance name")
	instanceAddCmd.Flags().StringToString("option", nil, "Option value as identifier=value (repeatable)")
	for _, flag := range []string{"probe", "plugin", "name"} {
		instanceAddCmd.MarkFlagRequired(flag)
	}

	instanceSetStatusCmd.Flags().Int64("id", 0, "Instance id")
	instanceSetStatusCmd.Flags().String("status", "", "New lifecycle: "+db.LifecycleActive+" or "+db.LifecycleSuspended)
	instanceSetStatusCmd.MarkFlagRequired("id")
	instanceSetStatusCmd.MarkFlagRequired("status")
}

type historyOutput struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

type instanceOutput struct {
	ID          int64           `json:"id"`
	Probe       string          `json:"probe"`
	Service     string          `json:"service"`
	Name        string          `json:"name"`
	Lifecycle   string          `json:"lifecycle"`
	ErrorCause  *string         `json:"error_cause,omitempty"`
	Status      string          `json:"status"`
	StatusSince *time.Time      `json:"status_since,omitempty"`
	History     []historyOutput `json:"history"`
}

func printInstance(ctx context.Context, database *db.DB, inst *db.Instance) error {
	levels, err := database.LoadLevels(ctx)
	if err != nil {
		return err
	}
	history, err := database.History(ctx, inst.ID)
	if err != nil {
		return err
	}

	out := instanceOutput{
		ID:          inst.ID,
		Probe:       inst.Probe,
		Service:     inst.Service,
		Name:        inst.Name,
		Lifecycle:   inst.Lifecycle,
		ErrorCause:  inst.ErrorCause,
		Status:      levels.Name(inst.Status),
		StatusSince: inst.StatusSince,
		History:     []historyOutput{},
	}
	for _, h := range history {
		out.History = append(out.History, historyOutput{Status: levels.Name(h.Status), At: h.At})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
