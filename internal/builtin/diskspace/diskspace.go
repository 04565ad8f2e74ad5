// Package diskspace reports file system usage of a path.
package diskspace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"syscall"

	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/samber/lo"
)

// Name is the plugin name.
const Name = "disk-space"

// Plugin returns the disk-space plugin.
func Plugin() *builtin.Plugin {
	return &builtin.Plugin{
		Descriptor: &plugin.Descriptor{
			Name:        Name,
			Description: "Check available disk space on a path",
			Options: []*plugin.Option{
				{Identifier: "mount", Name: "Mount point", Type: plugin.TypeString, Description: "Any path on the file system to check", Required: true},
			},
			Thresholds: []*plugin.Threshold{
				{Pattern: "free_percent", Status: "warning", Min: lo.ToPtr[int64](10)},
				{Pattern: "free_percent", Status: "error", Min: lo.ToPtr[int64](5)},
			},
		},
		Fetch: func(_ context.Context, getenv builtin.Getenv) (map[string]string, error) {
			return Fetch(getenv("MOUNT"))
		},
	}
}

// Fetch returns the usage of the file system holding path in bytes and the
// free share in whole percent.
func Fetch(path string) (map[string]string, error) {
	if path == "" {
		return nil, errors.New("mount option is required")
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	free := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	var freePercent uint64
	if total > 0 {
		freePercent = free * 100 / total
	}

	return map[string]string{
		"free_bytes":   strconv.FormatUint(free, 10),
		"total_bytes":  strconv.FormatUint(total, 10),
		"used_bytes":   strconv.FormatUint(total-free, 10),
		"free_percent": strconv.FormatUint(freePercent, 10),
	}, nil
}
