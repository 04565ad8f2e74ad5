package probe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jandubois/mon/internal/metrics"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/samber/lo"
)

// Mapping is an active instance as returned by the collector.
type Mapping struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Service string   `json:"service"`
	Options []Option `json:"options"`
}

// Option is a resolved option value of a mapping.
type Option struct {
	Identifier string `json:"identifier"`
	Value      string `json:"value"`
}

// Env builds the plugin environment for a mapping: one variable per option
// of the descriptor, named by the upper-cased identifier and valued by the
// mapping's value, else the option default, else the empty string.
func Env(d *plugin.Descriptor, m Mapping) map[string]string {
	values := lo.SliceToMap(m.Options, func(o Option) (string, string) {
		return o.Identifier, o.Value
	})
	env := make(map[string]string, len(d.Options))
	for _, opt := range d.Options {
		value, ok := values[opt.Identifier]
		if !ok {
			value = opt.Default
		}
		env[strings.ToUpper(opt.Identifier)] = value
	}
	return env
}

// Invoke runs the fetch action of the plugin bound to m. Failures are
// logged and yield no readings; they never abort the caller.
func Invoke(ctx context.Context, entry *plugin.Entry, m Mapping) map[string]string {
	name := entry.Plugin.Name()
	logger := slog.With("plugin", name, "instance", m.ID)

	start := time.Now()
	readings, err := entry.Plugin.Fetch(ctx, Env(entry.Descriptor, m))
	metrics.PluginFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.PluginFetches.WithLabelValues(name, metrics.OutcomeError).Inc()
		var exitErr *plugin.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("plugin fetch failed", "exit_code", exitErr.Code, "stdout", exitErr.Stdout, "stderr", exitErr.Stderr)
		} else {
			logger.Warn("plugin fetch failed", "error", err)
		}
		return nil
	}
	metrics.PluginFetches.WithLabelValues(name, metrics.OutcomeOK).Inc()
	logger.Debug("plugin fetched", "readings", len(readings))
	return readings
}
