package plugin

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/jandubois/mon/internal/minifmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingConfig = `description = Ping specific hosts.

[options]
hostnames = List of host names.
hostnames.type = list
hostnames.description = Hosts to ping, one per line.
hostnames.required = 1
timeout = Ping timeout
timeout.type = integer
timeout.default = 5
ssh.port = SSH port
verbose.required = yes
mode.type = enum

[thresholds]
latency.*.warning.max = 100
latency.*.error.max = 500
cpu.load.1m.error.min = 0
cpu.load.1m.error.max = 8
bad.max = 1
latency.*.warning.avg = 3
loss.warning.max = lots
`

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestParseDescriptorOptions(t *testing.T) {
	logger, logs := newTestLogger()

	d, err := ParseDescriptor("ping", strings.NewReader(pingConfig), logger)
	require.NoError(t, err)

	assert.Equal(t, "ping", d.Name)
	assert.Equal(t, "Ping specific hosts.", d.Description)

	var ids []string
	for _, o := range d.Options {
		ids = append(ids, o.Identifier)
	}
	assert.Equal(t, []string{"hostnames", "timeout", "ssh.port", "verbose", "mode"}, ids)

	hostnames := d.Option("hostnames")
	require.NotNil(t, hostnames)
	assert.Equal(t, "List of host names.", hostnames.Name)
	assert.Equal(t, TypeList, hostnames.Type)
	assert.Equal(t, "Hosts to ping, one per line.", hostnames.Description)
	assert.True(t, hostnames.Required)
	assert.False(t, hostnames.HasDefault)

	timeout := d.Option("timeout")
	require.NotNil(t, timeout)
	assert.Equal(t, TypeInteger, timeout.Type)
	assert.Equal(t, "5", timeout.Default)
	assert.True(t, timeout.HasDefault)
	assert.False(t, timeout.Required)

	sshPort := d.Option("ssh.port")
	require.NotNil(t, sshPort)
	assert.Equal(t, "SSH port", sshPort.Name)
	assert.Equal(t, TypeString, sshPort.Type)

	verbose := d.Option("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "verbose", verbose.Name, "name defaults to identifier")
	assert.False(t, verbose.Required, "only \"1\" means required")

	mode := d.Option("mode")
	require.NotNil(t, mode)
	assert.Equal(t, TypeString, mode.Type)
	assert.Contains(t, logs.String(), "unknown option type")
}

func TestParseDescriptorThresholds(t *testing.T) {
	logger, logs := newTestLogger()

	d, err := ParseDescriptor("ping", strings.NewReader(pingConfig), logger)
	require.NoError(t, err)

	require.Len(t, d.Thresholds, 3)

	warning := d.Threshold("latency.*", "warning")
	require.NotNil(t, warning)
	assert.Nil(t, warning.Min)
	require.NotNil(t, warning.Max)
	assert.EqualValues(t, 100, *warning.Max)

	errLatency := d.Threshold("latency.*", "error")
	require.NotNil(t, errLatency)
	assert.EqualValues(t, 500, *errLatency.Max)

	load := d.Threshold("cpu.load.1m", "error")
	require.NotNil(t, load)
	require.NotNil(t, load.Min)
	require.NotNil(t, load.Max)
	assert.EqualValues(t, 0, *load.Min)
	assert.EqualValues(t, 8, *load.Max)

	assert.Nil(t, d.Threshold("bad", "max"))
	assert.Nil(t, d.Threshold("loss", "warning"))

	out := logs.String()
	assert.Equal(t, 3, strings.Count(out, "invalid threshold"))
	assert.Contains(t, out, `"key":"bad.max"`)
	assert.Contains(t, out, `"key":"latency.*.warning.avg"`)
	assert.Contains(t, out, `"key":"loss.warning.max"`)
}

func TestParseDescriptorRejectsDuplicates(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
	}{
		{
			name: "duplicate section",
			text: "[options]\na = A\n[options]\nb = B\n",
			err:  minifmt.ErrDuplicateSection,
		},
		{
			name: "duplicate option key",
			text: "[options]\na = A\na = B\n",
			err:  minifmt.ErrDuplicateKey,
		},
		{
			name: "duplicate threshold key",
			text: "[thresholds]\nx.warning.max = 1\nx.warning.max = 2\n",
			err:  minifmt.ErrDuplicateKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDescriptor("dup", strings.NewReader(tt.text), nil)
			require.Error(t, err)
			assert.Nil(t, d)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestParseDescriptorEmpty(t *testing.T) {
	d, err := ParseDescriptor("empty", strings.NewReader(""), nil)
	require.NoError(t, err)
	assert.Equal(t, "", d.Description)
	assert.Empty(t, d.Options)
	assert.Empty(t, d.Thresholds)
}
