package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/builtin/command"
	"github.com/jandubois/mon/internal/builtin/debug"
	"github.com/jandubois/mon/internal/builtin/diskspace"
	"github.com/jandubois/mon/internal/builtin/gitstatus"
	"github.com/jandubois/mon/internal/config"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/jandubois/mon/internal/probe"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and run plugins from a services directory",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list [DIR]",
	Short: "Print the descriptors of all plugins as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := plugin.Scan(cmd.Context(), servicesDir(args), execOptions(cmd))
		descs := catalog.Descriptors()
		if descs == nil {
			descs = []*plugin.Descriptor{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	},
}

var pluginsFetchCmd = &cobra.Command{
	Use:   "fetch DIR NAME",
	Short: "Run the fetch action of one plugin and print its readings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[1]
		catalog := plugin.Scan(ctx, args[0], execOptions(cmd))
		entry, ok := catalog.Get(name)
		if !ok {
			return fmt.Errorf("plugin %q not found in %s", name, args[0])
		}

		values, _ := cmd.Flags().GetStringToString("option")
		keys := lo.Keys(values)
		sort.Strings(keys)
		m := probe.Mapping{Name: name, Service: name}
		for _, k := range keys {
			m.Options = append(m.Options, probe.Option{Identifier: k, Value: values[k]})
		}

		readings, err := entry.Plugin.Fetch(ctx, probe.Env(entry.Descriptor, m))
		if err != nil {
			var exitErr *plugin.ExitError
			if errors.As(err, &exitErr) && exitErr.Stderr != "" {
				fmt.Fprint(os.Stderr, exitErr.Stderr)
			}
			return err
		}
		return plugin.WriteFetch(os.Stdout, readings)
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsFetchCmd)

	pluginsCmd.PersistentFlags().Duration("fetch-timeout", plugin.DefaultTimeout, "Timeout for a single plugin invocation")
	pluginsFetchCmd.Flags().StringToString("option", nil, "Option value as identifier=value (repeatable)")

	for _, p := range []*builtin.Plugin{diskspace.Plugin(), command.Plugin(), debug.Plugin(), gitstatus.Plugin()} {
		rootCmd.AddCommand(builtinCommand(p))
	}
}

// builtinCommand runs a built-in plugin through the plugin protocol, so
// "mon disk-space config" behaves like the standalone executable.
func builtinCommand(p *builtin.Plugin) *cobra.Command {
	return &cobra.Command{
		Use:                p.Name() + " config|fetch",
		Short:              p.Descriptor.Description,
		GroupID:            pluginGroupID,
		DisableFlagParsing: true,
		PersistentPreRun:   func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(builtin.Main(p, args, os.Stdout, os.Stderr, os.Getenv))
		},
	}
}

func servicesDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return config.DefaultServicesDir
}

func execOptions(cmd *cobra.Command) plugin.ExecOptions {
	timeout, _ := cmd.Flags().GetDuration("fetch-timeout")
	return plugin.ExecOptions{Timeout: timeout}
}
