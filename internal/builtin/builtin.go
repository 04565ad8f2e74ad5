// Package builtin runs plugins that ship with mon. Each one is a small
// executable under plugins/ whose main hands control to Main.
package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jandubois/mon/internal/plugin"
)

// Getenv reads an option from the plugin environment.
type Getenv func(key string) string

// Plugin is a plugin implemented in Go.
type Plugin struct {
	Descriptor *plugin.Descriptor
	Fetch      func(ctx context.Context, getenv Getenv) (map[string]string, error)
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return p.Descriptor.Name
}

// Main implements the plugin protocol for p and returns the exit code.
func Main(p *Plugin, args []string, stdout, stderr io.Writer, getenv Getenv) int {
	if len(args) != 1 {
		fmt.Fprintf(stderr, "usage: %s config|fetch\n", p.Name())
		return 2
	}

	switch args[0] {
	case plugin.ActionConfig:
		if err := p.Descriptor.WriteConfig(stdout); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", p.Name(), err)
			return 1
		}
		return 0

	case plugin.ActionFetch:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		readings, err := p.Fetch(ctx, getenv)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", p.Name(), err)
			return 1
		}
		if err := plugin.WriteFetch(stdout, readings); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", p.Name(), err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(stderr, "%s: unknown action %q\n", p.Name(), args[0])
		return 2
	}
}

// Run is the entry point of a plugin executable.
func Run(p *Plugin) {
	os.Exit(Main(p, os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}
