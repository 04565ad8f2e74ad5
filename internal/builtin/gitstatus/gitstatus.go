// Package gitstatus counts git repositories below a directory that have
// uncommitted changes or unpushed commits.
package gitstatus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/samber/lo"
)

// Name is the plugin name.
const Name = "git-status"

// Agent instruction files, ignored with exclude_ai_files.
var aiFiles = compileAll(
	"CLAUDE.md", "**/CLAUDE.md",
	"AGENTS.md", "**/AGENTS.md",
	"GEMINI.md", "**/GEMINI.md",
	"COPILOT.md", "**/COPILOT.md",
	".claude/**", "**/.claude/**",
	".cursor/**", "**/.cursor/**",
	".github/copilot*",
)

func compileAll(patterns ...string) []glob.Glob {
	return lo.Map(patterns, func(p string, _ int) glob.Glob {
		return glob.MustCompile(p, '/')
	})
}

// Plugin returns the git-status plugin.
func Plugin() *builtin.Plugin {
	return &builtin.Plugin{
		Descriptor: &plugin.Descriptor{
			Name:        Name,
			Description: "Check git repositories for uncommitted changes and unpushed commits",
			Options: []*plugin.Option{
				{Identifier: "root", Name: "Root", Type: plugin.TypeString, Description: "Directory to scan for git repositories", Required: true},
				{Identifier: "uncommitted_hours", Name: "Uncommitted hours", Type: plugin.TypeInteger, Description: "Hours since the last commit before uncommitted changes count", Default: "1", HasDefault: true},
				{Identifier: "unpushed_hours", Name: "Unpushed hours", Type: plugin.TypeInteger, Description: "Hours since the last commit before unpushed commits count", Default: "4", HasDefault: true},
				{Identifier: "exclude_ai_files", Name: "Exclude AI files", Type: plugin.TypeBool, Description: "Ignore agent instruction files such as CLAUDE.md", Default: "0", HasDefault: true},
			},
			Thresholds: []*plugin.Threshold{
				{Pattern: "no_remote", Status: "warning", Max: lo.ToPtr[int64](0)},
				{Pattern: "dirty", Status: "error", Max: lo.ToPtr[int64](0)},
				{Pattern: "unpushed", Status: "error", Max: lo.ToPtr[int64](0)},
			},
		},
		Fetch: func(ctx context.Context, getenv builtin.Getenv) (map[string]string, error) {
			uncommitted, _ := strconv.Atoi(getenv("UNCOMMITTED_HOURS"))
			unpushed, _ := strconv.Atoi(getenv("UNPUSHED_HOURS"))
			return Fetch(ctx, getenv("ROOT"), Options{
				Uncommitted:    time.Duration(uncommitted) * time.Hour,
				Unpushed:       time.Duration(unpushed) * time.Hour,
				ExcludeAIFiles: getenv("EXCLUDE_AI_FILES") == "1",
			})
		},
	}
}

// Options tune which repositories count as dirty or unpushed.
type Options struct {
	Uncommitted    time.Duration
	Unpushed       time.Duration
	ExcludeAIFiles bool
}

// Fetch scans root and reports repos, dirty, unpushed, no_remote and
// failed (repositories git could not inspect).
func Fetch(ctx context.Context, root string, opts Options) (map[string]string, error) {
	if root == "" {
		return nil, errors.New("root option is required")
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}

	var dirty, unpushed, noRemote, failed int
	repos := findRepos(root)
	for _, repo := range repos {
		s, err := inspect(ctx, repo, opts.ExcludeAIFiles)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", repo, err)
			failed++
			continue
		}
		age := time.Since(s.lastCommit)
		if s.dirty && age > opts.Uncommitted {
			dirty++
		}
		switch {
		case s.noRemote:
			noRemote++
		case s.unpushed && age > opts.Unpushed:
			unpushed++
		}
	}

	return map[string]string{
		"repos":     strconv.Itoa(len(repos)),
		"dirty":     strconv.Itoa(dirty),
		"unpushed":  strconv.Itoa(unpushed),
		"no_remote": strconv.Itoa(noRemote),
		"failed":    strconv.Itoa(failed),
	}, nil
}

type repoInfo struct {
	path       string
	submodules map[string]bool
}

// findRepos returns every directory below root holding a .git entry. Inside
// a repository only its submodules are descended into.
func findRepos(root string) []string {
	var repos []string
	var stack []repoInfo

	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if path == top.path || strings.HasPrefix(path, top.path+string(os.PathSeparator)) {
				break
			}
			stack = stack[:len(stack)-1]
		}

		if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
			repos = append(repos, path)
			stack = append(stack, repoInfo{path: path, submodules: submodulePaths(path)})
			return nil
		}

		if len(stack) > 0 && !stack[len(stack)-1].leadsTo(path) {
			return filepath.SkipDir
		}
		return nil
	})
	return repos
}

// leadsTo reports whether dir is a submodule or lies on the way to one.
func (r repoInfo) leadsTo(dir string) bool {
	for sub := range r.submodules {
		if sub == dir || strings.HasPrefix(sub, dir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// submodulePaths reads the "path =" entries of .gitmodules.
func submodulePaths(repo string) map[string]bool {
	result := make(map[string]bool)
	data, err := os.ReadFile(filepath.Join(repo, ".gitmodules"))
	if err != nil {
		return result
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok && strings.TrimSpace(key) == "path" {
			result[filepath.Join(repo, strings.TrimSpace(value))] = true
		}
	}
	return result
}

type repoState struct {
	lastCommit time.Time
	dirty      bool
	unpushed   bool
	noRemote   bool
}

func inspect(ctx context.Context, repo string, excludeAIFiles bool) (*repoState, error) {
	out, err := git(ctx, repo, "log", "-1", "--format=%cI")
	if err != nil {
		return nil, fmt.Errorf("last commit: %w", err)
	}
	last, err := time.Parse(time.RFC3339, out)
	if err != nil {
		return nil, fmt.Errorf("last commit: %w", err)
	}
	s := &repoState{lastCommit: last}

	out, err = git(ctx, repo, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	s.dirty = hasChanges(out, excludeAIFiles)

	branch, err := git(ctx, repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("branch: %w", err)
	}
	if _, err := git(ctx, repo, "rev-parse", "--abbrev-ref", branch+"@{upstream}"); err != nil {
		s.noRemote = true
		return s, nil
	}
	out, err = git(ctx, repo, "log", branch+"@{upstream}..HEAD", "--oneline")
	if err != nil {
		return nil, fmt.Errorf("unpushed commits: %w", err)
	}
	s.unpushed = out != ""
	return s, nil
}

func git(ctx context.Context, repo string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", append([]string{"-C", repo}, args...)...).Output()
	return strings.TrimRight(string(out), "\n"), err
}

// hasChanges reports whether porcelain status output lists a change.
func hasChanges(porcelain string, excludeAIFiles bool) bool {
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 4 {
			continue
		}
		if !excludeAIFiles || !isAIFile(strings.TrimSpace(line[3:])) {
			return true
		}
	}
	return false
}

func isAIFile(name string) bool {
	return lo.SomeBy(aiFiles, func(g glob.Glob) bool { return g.Match(name) })
}
