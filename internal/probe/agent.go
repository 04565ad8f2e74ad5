// Package probe implements the probe agent: it discovers plugins, registers
// them with the collector, and polls the active instances on a fixed
// interval, submitting their readings in one batch per cycle.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/jandubois/mon/internal/config"
	"github.com/jandubois/mon/internal/metrics"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Loader re-reads the probe configuration on reload.
type Loader interface {
	Load() (*config.ProbeConfig, error)
}

// ScanFunc discovers the plugins below a directory.
type ScanFunc func(ctx context.Context, root string, opts plugin.ExecOptions) *plugin.Catalog

// Agent runs the probe poll loop.
type Agent struct {
	loader  Loader
	control *Control
	scan    ScanFunc
	now     func() time.Time

	// Owned by the loop goroutine.
	cfg        *config.ProbeConfig
	client     *Client
	catalog    *plugin.Catalog
	registered bool
	watcher    *dirWatcher

	mu        sync.Mutex
	lastCycle time.Time
	plugins   int
}

// New creates an agent for cfg. loader may be nil, in which case reloads
// keep cfg and only rediscover plugins.
func New(cfg *config.ProbeConfig, loader Loader, control *Control) *Agent {
	if control == nil {
		control = NewControl()
	}
	return &Agent{
		loader:  loader,
		control: control,
		scan:    plugin.Scan,
		now:     time.Now,
		cfg:     cfg,
		client:  NewClient(cfg.ServerAddress),
	}
}

// Control returns the control value the loop reads.
func (a *Agent) Control() *Control {
	return a.control
}

// Run starts the local API and the services watcher if configured, then
// runs the poll loop until shutdown is requested or ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.WatchServices {
		w, err := newDirWatcher(a.control)
		if err != nil {
			return err
		}
		a.watcher = w
		if err := w.watch(a.cfg.ServicesDir); err != nil {
			slog.Warn("watching services directory failed", "path", a.cfg.ServicesDir, "error", err)
		}
		g.Go(func() error {
			return w.run(ctx)
		})
	}

	if a.cfg.APIAddress != "" {
		server := a.apiServer(a.cfg.APIAddress)
		g.Go(func() error {
			slog.Info("probe API listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("probe API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		a.loop(ctx)
		return nil
	})

	return g.Wait()
}

func (a *Agent) loop(ctx context.Context) {
	slog.Info("probe started", "name", a.cfg.Name, "server", a.cfg.ServerAddress, "interval", a.cfg.Interval)
	a.reconfigure(ctx, false)

	for {
		if a.control.ShutdownRequested() || ctx.Err() != nil {
			slog.Info("probe stopping")
			return
		}
		if a.control.TakeReload() {
			a.reconfigure(ctx, true)
		} else if !a.registered {
			a.reconfigure(ctx, false)
		}

		a.cycle(ctx)

		timer := time.NewTimer(a.cfg.Interval)
		select {
		case <-ctx.Done():
		case <-a.control.Wake():
		case <-timer.C:
		}
		timer.Stop()
	}
}

// reconfigure optionally re-reads the config file, rediscovers plugins and
// registers them. Failures are logged; registration is retried before the
// next cycle.
func (a *Agent) reconfigure(ctx context.Context, reload bool) {
	if reload && a.loader != nil {
		cfg, err := a.loader.Load()
		switch {
		case errors.Is(err, config.ErrConfigNotFound):
			slog.Warn("config file missing, keeping previous configuration", "error", err)
		case err != nil:
			slog.Error("config reload failed, keeping previous configuration", "error", err)
		default:
			a.applyConfig(cfg)
		}
	}

	a.catalog = a.scan(ctx, a.cfg.ServicesDir, a.cfg.ExecOptions())
	metrics.CatalogPlugins.Set(float64(a.catalog.Len()))
	a.mu.Lock()
	a.plugins = a.catalog.Len()
	a.mu.Unlock()

	services := a.catalog.Descriptors()
	if services == nil {
		services = []*plugin.Descriptor{}
	}
	resp, err := a.client.Register(ctx, &RegisterRequest{Name: a.cfg.Name, Services: services})
	if err != nil {
		a.registered = false
		slog.Error("registration failed", "server", a.cfg.ServerAddress, "error", err)
		return
	}
	a.registered = true
	slog.Info("registered with collector",
		"probe_id", resp.ProbeID,
		"plugins", a.catalog.Names(),
		"added", resp.Added,
		"removed", resp.Removed,
	)
}

func (a *Agent) applyConfig(cfg *config.ProbeConfig) {
	if cfg.ServerAddress != a.cfg.ServerAddress {
		a.client = NewClient(cfg.ServerAddress)
	}
	if a.watcher != nil && cfg.ServicesDir != a.cfg.ServicesDir {
		if err := a.watcher.watch(cfg.ServicesDir); err != nil {
			slog.Warn("watching services directory failed", "path", cfg.ServicesDir, "error", err)
		}
	}
	if cfg.Name != a.cfg.Name {
		slog.Info("probe renamed", "from", a.cfg.Name, "to", cfg.Name)
	}
	a.cfg = cfg
}

// cycle polls every active instance once and submits the readings as one
// batch. All readings of a cycle share one timestamp.
func (a *Agent) cycle(ctx context.Context) {
	if !a.registered {
		return
	}
	mappings, err := a.client.Mappings(ctx, a.cfg.Name)
	if err != nil {
		slog.Error("fetching mappings failed", "error", err)
		return
	}

	start := a.now()
	ts := start.UTC().Format(time.RFC3339Nano)
	var batch []Reading
	for _, m := range mappings {
		if a.control.ShutdownRequested() || ctx.Err() != nil {
			break
		}
		entry, ok := a.catalog.Get(m.Service)
		if !ok {
			slog.Debug("plugin not in catalog, instance skipped", "plugin", m.Service, "instance", m.ID)
			continue
		}
		batch = append(batch, convert(m, Invoke(ctx, entry, m), ts)...)
	}

	a.mu.Lock()
	a.lastCycle = start
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := a.client.SubmitReadings(ctx, a.cfg.Name, batch); err != nil {
		slog.Error("submitting readings failed", "readings", len(batch), "error", err)
		return
	}
	slog.Debug("cycle complete", "instances", len(mappings), "readings", len(batch), "duration", units.HumanDuration(time.Since(start)))
}

// convert turns plugin output into readings. Values that are not integers
// are logged and skipped.
func convert(m Mapping, values map[string]string, ts string) []Reading {
	names := lo.Keys(values)
	sort.Strings(names)

	out := make([]Reading, 0, len(names))
	for _, name := range names {
		v, err := strconv.ParseInt(strings.TrimSpace(values[name]), 10, 64)
		if err != nil {
			slog.Warn("reading is not an integer, skipped", "instance", m.ID, "plugin", m.Service, "reading", name, "value", values[name])
			continue
		}
		out = append(out, Reading{Instance: m.ID, Reading: name, Value: v, Timestamp: ts})
	}
	return out
}
