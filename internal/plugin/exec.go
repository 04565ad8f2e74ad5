package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	units "github.com/docker/go-units"
	"github.com/jandubois/mon/internal/minifmt"
)

// Plugin actions passed as the single argument.
const (
	ActionConfig = "config"
	ActionFetch  = "fetch"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 1 << 20

	// terminateGrace is how long a timed-out plugin gets between SIGTERM and SIGKILL.
	terminateGrace = 5 * time.Second
)

var (
	ErrTimeout        = errors.New("plugin timed out")
	ErrOutputTooLarge = errors.New("plugin output too large")
)

// ExitError is returned when a plugin exits with a non-zero code.
type ExitError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("plugin exited with code %d", e.Code)
}

// Plugin is a source of metric readings that can describe itself.
type Plugin interface {
	Name() string
	Describe(ctx context.Context) (*Descriptor, error)
	Fetch(ctx context.Context, env map[string]string) (map[string]string, error)
}

// ExecOptions bound a single plugin invocation.
type ExecOptions struct {
	Timeout   time.Duration
	MaxOutput int64
}

func (o ExecOptions) withDefaults() ExecOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxOutput <= 0 {
		o.MaxOutput = DefaultMaxOutput
	}
	return o
}

// Exec is a Plugin backed by an executable file.
type Exec struct {
	name   string
	path   string
	opts   ExecOptions
	logger *slog.Logger
}

// NewExec creates a plugin for the executable at path. The plugin name is
// the file name without extension.
func NewExec(path string, opts ExecOptions) *Exec {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return &Exec{
		name:   name,
		path:   path,
		opts:   opts.withDefaults(),
		logger: slog.With("plugin", name),
	}
}

// Name returns the plugin name.
func (p *Exec) Name() string {
	return p.name
}

// Path returns the executable path.
func (p *Exec) Path() string {
	return p.path
}

// Describe runs "<plugin> config" and parses its output.
func (p *Exec) Describe(ctx context.Context) (*Descriptor, error) {
	out, err := p.run(ctx, ActionConfig, nil)
	if err != nil {
		return nil, err
	}
	d, err := ParseDescriptor(p.name, bytes.NewReader(out), p.logger)
	if err != nil {
		return nil, err
	}
	d.Path = p.path
	return d, nil
}

// Fetch runs "<plugin> fetch" with env added to the inherited environment
// and returns the [fetch] section of its output.
func (p *Exec) Fetch(ctx context.Context, env map[string]string) (map[string]string, error) {
	out, err := p.run(ctx, ActionFetch, env)
	if err != nil {
		return nil, err
	}
	doc, err := minifmt.Parse(bytes.NewReader(out), ActionFetch)
	if err != nil {
		return nil, fmt.Errorf("parse fetch output of %s: %w", p.name, err)
	}
	return doc.Section(ActionFetch).Map(), nil
}

func (p *Exec) run(ctx context.Context, action string, env map[string]string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, p.path, action)
	cmd.Env = buildEnv(env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = terminateGrace

	stdout := &limitedBuffer{limit: p.opts.MaxOutput}
	stderr := &limitedBuffer{limit: p.opts.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	p.logger.Debug("plugin finished", "action", action, "duration", units.HumanDuration(time.Since(start)), "stdout_bytes", stdout.Len())

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s %s after %s: %w", p.name, action, p.opts.Timeout, ErrTimeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("run %s %s: %w", p.name, action, err)
	}
	if stdout.truncated {
		return nil, fmt.Errorf("%s %s wrote more than %s: %w", p.name, action, units.BytesSize(float64(p.opts.MaxOutput)), ErrOutputTooLarge)
	}

	return stdout.Bytes(), nil
}

// buildEnv returns the process environment with env layered on top.
func buildEnv(env map[string]string) []string {
	out := os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// limitedBuffer keeps the first limit bytes and silently drops the rest so
// a chatty plugin is not blocked on a full pipe.
type limitedBuffer struct {
	bytes.Buffer
	limit     int64
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - int64(b.Buffer.Len())
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.Buffer.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
