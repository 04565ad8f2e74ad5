package builtin_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/builtin/command"
	"github.com/jandubois/mon/internal/builtin/debug"
	"github.com/jandubois/mon/internal/builtin/diskspace"
	"github.com/jandubois/mon/internal/builtin/gitstatus"
	"github.com/jandubois/mon/internal/minifmt"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) builtin.Getenv {
	return func(key string) string { return values[key] }
}

func run(t *testing.T, p *builtin.Plugin, action string, values map[string]string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := builtin.Main(p, []string{action}, &stdout, &stderr, env(values))
	return code, stdout.String(), stderr.String()
}

func TestConfigRoundTrip(t *testing.T) {
	for _, p := range []*builtin.Plugin{diskspace.Plugin(), command.Plugin(), debug.Plugin(), gitstatus.Plugin()} {
		t.Run(p.Name(), func(t *testing.T) {
			code, out, _ := run(t, p, plugin.ActionConfig, nil)
			require.Zero(t, code)

			d, err := plugin.ParseDescriptor(p.Name(), bytes.NewBufferString(out), nil)
			require.NoError(t, err)
			assert.Equal(t, p.Descriptor.Description, d.Description)
			require.Len(t, d.Options, len(p.Descriptor.Options))
			for i, o := range p.Descriptor.Options {
				assert.Equal(t, o.Identifier, d.Options[i].Identifier)
				assert.Equal(t, o.Type, d.Options[i].Type)
				assert.Equal(t, o.Required, d.Options[i].Required)
				assert.Equal(t, o.Default, d.Options[i].Default)
			}
			assert.Equal(t, p.Descriptor.Thresholds, d.Thresholds)
		})
	}
}

func TestUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, builtin.Main(debug.Plugin(), nil, &stdout, &stderr, env(nil)))
	assert.Equal(t, 2, builtin.Main(debug.Plugin(), []string{"describe"}, &stdout, &stderr, env(nil)))
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "unknown action")
}

func fetchSection(t *testing.T, out string) map[string]string {
	t.Helper()
	doc, err := minifmt.ParseString(out, plugin.ActionFetch)
	require.NoError(t, err)
	return doc.Section(plugin.ActionFetch).Map()
}

func TestDebugModes(t *testing.T) {
	code, out, _ := run(t, debug.Plugin(), plugin.ActionFetch, map[string]string{"MODE": "ok", "VALUE": "150"})
	require.Zero(t, code)
	assert.Equal(t, map[string]string{"value": "150"}, fetchSection(t, out))

	code, out, stderr := run(t, debug.Plugin(), plugin.ActionFetch, map[string]string{"MODE": "fail"})
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "simulated failure")

	code, out, _ = run(t, debug.Plugin(), plugin.ActionFetch, map[string]string{"MODE": "garbage"})
	require.Zero(t, code)
	assert.Equal(t, "not a number", fetchSection(t, out)["value"])
}

func TestDebugHangHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := debug.Fetch(ctx, debug.ModeHang, "", 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		okCodes string
		exit    string
		failed  string
	}{
		{"success", "true", "0", "0", "0"},
		{"failure", "exit 3", "0", "3", "1"},
		{"accepted code", "exit 3", "0\n3", "3", "0"},
		{"comma separated", "exit 1", "0,1", "1", "0"},
		{"empty ok codes", "exit 0", "", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readings, err := command.Fetch(context.Background(), tt.command, "/bin/sh", tt.okCodes)
			require.NoError(t, err)
			assert.Equal(t, tt.exit, readings["exit_code"])
			assert.Equal(t, tt.failed, readings["failed"])
			assert.Contains(t, readings, "duration_ms")
		})
	}

	_, err := command.Fetch(context.Background(), "", "/bin/sh", "0")
	assert.Error(t, err)
}

func TestDiskSpace(t *testing.T) {
	readings, err := diskspace.Fetch(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"free_bytes", "total_bytes", "used_bytes", "free_percent"} {
		assert.Contains(t, readings, key)
	}

	_, err = diskspace.Fetch("/nonexistent/path/that/does/not/exist")
	assert.ErrorContains(t, err, "failed to stat")

	_, err = diskspace.Fetch("")
	assert.Error(t, err)
}
