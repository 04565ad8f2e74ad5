package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry pairs a runnable plugin with the descriptor it reported.
type Entry struct {
	Plugin     Plugin
	Descriptor *Descriptor
}

// Catalog is the set of plugins found by one scan, keyed by plugin name.
type Catalog struct {
	entries map[string]*Entry
}

// NewCatalog builds a catalog from already described plugins.
func NewCatalog(entries ...*Entry) *Catalog {
	c := &Catalog{entries: make(map[string]*Entry, len(entries))}
	for _, e := range entries {
		c.entries[e.Descriptor.Name] = e
	}
	return c
}

// Get returns the plugin registered under name.
func (c *Catalog) Get(name string) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.entries[name]
	return e, ok
}

// Len returns the number of plugins.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Names returns the plugin names in sorted order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns all descriptors ordered by name.
func (c *Catalog) Descriptors() []*Descriptor {
	var out []*Descriptor
	for _, name := range c.Names() {
		out = append(out, c.entries[name].Descriptor)
	}
	return out
}

// Scan walks root recursively and describes every executable regular file.
// Entries whose name starts with a dot are skipped, directories included.
// A plugin that fails to describe itself is logged and left out. When two
// files map to the same name the one discovered last wins; discovery order
// across directories is not part of the contract.
func Scan(ctx context.Context, root string, opts ExecOptions) *Catalog {
	c := &Catalog{entries: make(map[string]*Entry)}

	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Error("services directory not found", "path", root)
		} else {
			slog.Error("services directory not readable", "path", root, "error", err)
		}
		return c
	}

	c.scanDir(ctx, root, opts)
	slog.Info("plugin discovery complete", "path", root, "count", len(c.entries))
	return c
}

func (c *Catalog) scanDir(ctx context.Context, dir string, opts ExecOptions) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Error("read services directory failed", "path", dir, "error", err)
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		// Stat follows symlinks, so linked plugins and directories count.
		info, err := os.Stat(path)
		if err != nil {
			slog.Warn("stat failed, skipped", "path", path, "error", err)
			continue
		}

		switch {
		case info.IsDir():
			c.scanDir(ctx, path, opts)
		case info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0:
			c.examine(ctx, path, opts)
		}
	}
}

func (c *Catalog) examine(ctx context.Context, path string, opts ExecOptions) {
	p := NewExec(path, opts)

	desc, err := p.Describe(ctx)
	if err != nil {
		logDescribeError(p.Name(), path, err)
		return
	}

	if prev, ok := c.entries[desc.Name]; ok {
		slog.Warn("duplicate plugin name, replacing", "plugin", desc.Name, "previous", prev.Descriptor.Path, "path", path)
	}
	c.entries[desc.Name] = &Entry{Plugin: p, Descriptor: desc}

	slog.Debug("discovered plugin", "plugin", desc.Name, "path", path, "options", len(desc.Options), "thresholds", len(desc.Thresholds))
}

func logDescribeError(name, path string, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		slog.Error("plugin config failed, skipped",
			"plugin", name,
			"path", path,
			"exit_code", exitErr.Code,
			"stdout", exitErr.Stdout,
			"stderr", exitErr.Stderr,
		)
		return
	}
	slog.Error("plugin config invalid, skipped", "plugin", name, "path", path, "error", err)
}
