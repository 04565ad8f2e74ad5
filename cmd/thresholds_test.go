package cmd

import (
	"strings"
	"testing"

	"github.com/jandubois/mon/internal/db"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThresholdFile(t *testing.T) {
	text := `
disk-space:
  free_percent:
    warning: {min: 20}
    error: {min: 10}
command:
  failed:
    error: {max: 0}
`
	got, err := parseThresholdFile(strings.NewReader(text))
	require.NoError(t, err)

	assert.Equal(t, map[string][]db.Threshold{
		"disk-space": {
			{Reading: "free_percent", Status: "error", Min: lo.ToPtr[int64](10)},
			{Reading: "free_percent", Status: "warning", Min: lo.ToPtr[int64](20)},
		},
		"command": {
			{Reading: "failed", Status: "error", Max: lo.ToPtr[int64](0)},
		},
	}, got)
}

func TestParseThresholdFileErrors(t *testing.T) {
	_, err := parseThresholdFile(strings.NewReader("svc:\n  load:\n    warning: {}\n"))
	assert.ErrorContains(t, err, "neither min nor max")

	_, err = parseThresholdFile(strings.NewReader("- not a mapping\n"))
	assert.Error(t, err)

	got, err := parseThresholdFile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}
