// Package command runs a shell command and reports its exit code.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/samber/lo"
)

// Name is the plugin name.
const Name = "command"

// Plugin returns the command plugin.
func Plugin() *builtin.Plugin {
	return &builtin.Plugin{
		Descriptor: &plugin.Descriptor{
			Name:        Name,
			Description: "Run a command and check its exit code",
			Options: []*plugin.Option{
				{Identifier: "command", Name: "Command", Type: plugin.TypeString, Description: "Command to run", Required: true},
				{Identifier: "shell", Name: "Shell", Type: plugin.TypeString, Description: "Shell to use for execution", Default: "/bin/sh", HasDefault: true},
				{Identifier: "ok_codes", Name: "OK codes", Type: plugin.TypeList, Description: "Exit codes that indicate success, one per line", Default: "0", HasDefault: true},
			},
			Thresholds: []*plugin.Threshold{
				{Pattern: "failed", Status: "error", Max: lo.ToPtr[int64](0)},
			},
		},
		Fetch: func(ctx context.Context, getenv builtin.Getenv) (map[string]string, error) {
			return Fetch(ctx, getenv("COMMAND"), getenv("SHELL"), getenv("OK_CODES"))
		},
	}
}

// Fetch runs command with shell -c and reports exit_code, failed (1 when the
// exit code is not one of okCodes) and duration_ms.
func Fetch(ctx context.Context, command, shell, okCodes string) (map[string]string, error) {
	if command == "" {
		return nil, errors.New("command option is required")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	okCodeSet := parseCodeSet(okCodes)
	if len(okCodeSet) == 0 {
		okCodeSet[0] = true
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
		exitCode = exitErr.ExitCode()
		if exitCode < 0 {
			return nil, fmt.Errorf("command terminated: %w", err)
		}
	}

	return map[string]string{
		"exit_code":   strconv.Itoa(exitCode),
		"failed":      lo.Ternary(okCodeSet[exitCode], "0", "1"),
		"duration_ms": strconv.FormatInt(duration.Milliseconds(), 10),
	}, nil
}

// parseCodeSet reads exit codes separated by newlines or commas. Entries
// that are not integers are ignored.
func parseCodeSet(codes string) map[int]bool {
	set := make(map[int]bool)
	fields := strings.FieldsFunc(codes, func(r rune) bool { return r == ',' || r == '\n' })
	for _, part := range fields {
		if code, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			set[code] = true
		}
	}
	return set
}
