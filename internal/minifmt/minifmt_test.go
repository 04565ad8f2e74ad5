package minifmt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSections(t *testing.T) {
	text := `description = Ping specific hosts.  # trailing comment

[options]
hostnames = List of host names.
hostnames.type = list
; full line comment
# another one
timeout = Ping timeout

[thresholds]
latency.*.warning.max = 100
`
	doc, err := ParseString(text, "config")
	require.NoError(t, err)

	desc, ok := doc.Section("config").Get("description")
	require.True(t, ok)
	assert.Equal(t, "Ping specific hosts.", desc)

	opts := doc.Section("options").Entries()
	require.Len(t, opts, 3)
	assert.Equal(t, "hostnames", opts[0].Key)
	assert.Equal(t, "hostnames.type", opts[1].Key)
	assert.Equal(t, "list", opts[1].Value)
	assert.Equal(t, "timeout", opts[2].Key)

	v, ok := doc.Section("thresholds").Get("latency.*.warning.max")
	require.True(t, ok)
	assert.Equal(t, "100", v)

	names := []string{}
	for _, s := range doc.Sections() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"config", "options", "thresholds"}, names)
}

func TestParseValueForms(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		key      string
		expected string
	}{
		{name: "no value", text: "flag\n", key: "flag", expected: ""},
		{name: "empty value", text: "flag =\n", key: "flag", expected: ""},
		{name: "equals in value", text: "expr = a=b\n", key: "expr", expected: "a=b"},
		{name: "hash after space is a comment", text: "color = #fff\n", key: "color", expected: ""},
		{name: "hash inside value kept", text: "tag = a#b\n", key: "tag", expected: "a#b"},
		{name: "continuation", text: "hosts = a\n  b\n\tc\n", key: "hosts", expected: "a\nb\nc"},
		{name: "continuation of empty", text: "hosts =\n  a\n  b\n", key: "hosts", expected: "a\nb"},
		{name: "case preserved", text: "Load.1m = 3\n", key: "Load.1m", expected: "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseString(tt.text, "fetch")
			require.NoError(t, err)
			v, ok := doc.Section("fetch").Get(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestParseBlankLineEndsContinuation(t *testing.T) {
	doc, err := ParseString("a = 1\n\n  b = 2\n", "fetch")
	require.NoError(t, err)

	a, _ := doc.Section("fetch").Get("a")
	assert.Equal(t, "1", a)
	b, ok := doc.Section("fetch").Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", b)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		line int
	}{
		{name: "duplicate section", text: "[options]\na = 1\n[options]\n", err: ErrDuplicateSection, line: 3},
		{name: "duplicate implicit section", text: "a = 1\n[config]\n", err: ErrDuplicateSection, line: 2},
		{name: "duplicate key", text: "[options]\na = 1\na = 2\n", err: ErrDuplicateKey, line: 3},
		{name: "duplicate implicit key", text: "a = 1\na = 2\n", err: ErrDuplicateKey, line: 2},
		{name: "empty key", text: "= 1\n", err: ErrSyntax, line: 1},
		{name: "unterminated header", text: "[options\n", err: ErrSyntax, line: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.text, "config")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.err), "got %v", err)

			var syntaxErr *SyntaxError
			require.True(t, errors.As(err, &syntaxErr))
			assert.Equal(t, tt.line, syntaxErr.Line)
		})
	}
}

func TestSameKeyInDifferentSections(t *testing.T) {
	doc, err := ParseString("[a]\nx = 1\n[b]\nx = 2\n", "config")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"x": "1"}, doc.Section("a").Map())
	assert.Equal(t, map[string]string{"x": "2"}, doc.Section("b").Map())
}

func TestMissingSection(t *testing.T) {
	doc, err := ParseString("", "config")
	require.NoError(t, err)
	assert.Nil(t, doc.Section("options"))
	assert.Empty(t, doc.Section("options").Entries())
	_, ok := doc.Section("options").Get("x")
	assert.False(t, ok)
}

func TestExplicitImplicitHeader(t *testing.T) {
	doc, err := ParseString("# readings\n[fetch]\nload = 3\n", "fetch")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"load": "3"}, doc.Section("fetch").Map())
	assert.Len(t, doc.Sections(), 1)
}
