package gitstatus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
}

func TestFindRepos(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root,
		"a/.git",
		"a/src",
		"a/vendor/sub/.git",
		"b/nested/.git",
		"plain",
	)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", ".gitmodules"),
		[]byte("[submodule \"sub\"]\n\tpath = vendor/sub\n"), 0o644))

	repos := findRepos(root)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a"),
		filepath.Join(root, "a", "vendor", "sub"),
		filepath.Join(root, "b", "nested"),
	}, repos)
}

func TestFindReposSkipsUndeclaredNested(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/.git", "a/inner/.git")
	assert.Equal(t, []string{filepath.Join(root, "a")}, findRepos(root))
}

func TestHasChanges(t *testing.T) {
	tests := []struct {
		name      string
		porcelain string
		exclude   bool
		expected  bool
	}{
		{"clean", "", false, false},
		{"modified", " M main.go", false, true},
		{"agent file counted", "?? CLAUDE.md", false, true},
		{"agent file excluded", "?? CLAUDE.md", true, false},
		{"nested agent dir excluded", " M pkg/.claude/settings.json", true, false},
		{"mixed", "?? AGENTS.md\n M go.mod", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, hasChanges(tt.porcelain, tt.exclude))
		})
	}
}

func TestFetchWithoutRepositories(t *testing.T) {
	readings, err := Fetch(context.Background(), t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"repos": "0", "dirty": "0", "unpushed": "0", "no_remote": "0", "failed": "0",
	}, readings)

	_, err = Fetch(context.Background(), "", Options{})
	assert.Error(t, err)
	_, err = Fetch(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	assert.Error(t, err)
}
