package plugin

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jandubois/mon/internal/minifmt"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteConfigParsesBack(t *testing.T) {
	d := &Descriptor{
		Name:        "example",
		Description: "Example plugin",
		Options: []*Option{
			{Identifier: "hosts", Name: "Hosts", Type: TypeList, Description: "Hosts to check", Required: true},
			{Identifier: "timeout", Name: "Timeout", Type: TypeInteger, Default: "5", HasDefault: true},
		},
		Thresholds: []*Threshold{
			{Pattern: "rtt.*", Status: "warning", Max: lo.ToPtr[int64](200)},
			{Pattern: "loss", Status: "error", Min: lo.ToPtr[int64](-1), Max: lo.ToPtr[int64](10)},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, d.WriteConfig(&buf))

	parsed, err := ParseDescriptor("example", &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestWriteFetch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFetch(&buf, map[string]string{"b": "2", "a": "1", "Multi": "x\ny"}))
	assert.Equal(t, "[fetch]\nMulti = x\n    y\na = 1\nb = 2\n", buf.String())

	doc, err := minifmt.Parse(strings.NewReader(buf.String()), ActionFetch)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "Multi": "x\ny"}, doc.Section(ActionFetch).Map())
}
