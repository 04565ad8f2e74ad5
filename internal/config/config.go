// Package config loads probe and server settings. Values come from flags,
// MON_* environment variables, an INI style config file and defaults, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/jandubois/mon/internal/minifmt"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "MON"

	DefaultProbeConfigPath = "/etc/mon/probe.conf"
	DefaultServicesDir     = "/usr/lib/mon/plugins"
	DefaultInterval        = 60 * time.Second
	DefaultDatabasePath    = "/var/lib/mon/mon.db"
)

// ErrConfigNotFound is returned when the config file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// ProbeConfig holds configuration for the probe agent.
type ProbeConfig struct {
	Name          string
	ServerAddress string
	ServicesDir   string
	Interval      time.Duration
	FetchTimeout  time.Duration
	MaxOutput     int64
	APIAddress    string
	WatchServices bool
}

// ExecOptions returns the bounds for plugin invocations.
func (c *ProbeConfig) ExecOptions() plugin.ExecOptions {
	return plugin.ExecOptions{Timeout: c.FetchTimeout, MaxOutput: c.MaxOutput}
}

// NotifyConfig configures status change notifications.
type NotifyConfig struct {
	NtfyURL   string
	NtfyTopic string
	NtfyToken string

	PushoverToken string
	PushoverUser  string
}

// Enabled reports whether a notification channel is configured.
func (c NotifyConfig) Enabled() bool {
	return c.NtfyTopic != "" || (c.PushoverToken != "" && c.PushoverUser != "")
}

// ServerConfig holds configuration for the collector.
type ServerConfig struct {
	Listen       string
	DatabasePath string
	Notify       NotifyConfig
}

// probe flag name -> config key
var probeFlags = map[string]string{
	"server":         "server.address",
	"name":           "probe.name",
	"services":       "probe.services",
	"interval":       "probe.interval",
	"fetch-timeout":  "probe.fetch_timeout",
	"max-output":     "probe.max_output",
	"api-address":    "probe.api_address",
	"watch-services": "probe.watch_services",
}

var serverFlags = map[string]string{
	"listen":     "server.listen",
	"database":   "server.database",
	"ntfy-url":   "notify.ntfy_url",
	"ntfy-topic": "notify.ntfy_topic",
	"ntfy-token": "notify.ntfy_token",

	"pushover-token": "notify.pushover_token",
	"pushover-user":  "notify.pushover_user",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// AddProbeFlags defines the probe flags on fs.
func AddProbeFlags(fs *pflag.FlagSet) {
	fs.String("server", "http://localhost:8080", "Collector base URL")
	fs.String("name", "", "Probe name (default: host name)")
	fs.String("services", DefaultServicesDir, "Directory with plugin executables")
	fs.Duration("interval", DefaultInterval, "Poll interval")
	fs.Duration("fetch-timeout", plugin.DefaultTimeout, "Timeout for a single plugin invocation")
	fs.String("max-output", "1MiB", "Maximum plugin output size")
	fs.String("api-address", "", "Address of the local control API (empty disables it)")
	fs.Bool("watch-services", false, "Reload when the services directory changes")
}

// AddServerFlags defines the collector flags on fs.
func AddServerFlags(fs *pflag.FlagSet) {
	fs.String("listen", ":8080", "Address to listen on")
	fs.String("ntfy-url", "https://ntfy.sh", "ntfy server URL")
	fs.String("ntfy-topic", "", "ntfy topic for status changes (empty disables notifications)")
	fs.String("ntfy-token", "", "ntfy access token")
	fs.String("pushover-token", "", "Pushover application token")
	fs.String("pushover-user", "", "Pushover user key")
}

// ProbeLoader reads the probe configuration and can re-read it on reload.
type ProbeLoader struct {
	flags *pflag.FlagSet
	path  string
}

// NewProbeLoader creates a loader for the flags defined by AddProbeFlags.
// path is the config file.
func NewProbeLoader(fs *pflag.FlagSet, path string) *ProbeLoader {
	return &ProbeLoader{flags: fs, path: path}
}

// Path returns the config file path.
func (l *ProbeLoader) Path() string {
	return l.path
}

// Load reads the config file and returns the merged configuration. When the
// file is missing it returns the configuration without it and an error
// wrapping ErrConfigNotFound.
func (l *ProbeLoader) Load() (*ProbeConfig, error) {
	v := newViper()
	v.SetDefault("server.address", "http://localhost:8080")
	v.SetDefault("probe.services", DefaultServicesDir)
	v.SetDefault("probe.interval", DefaultInterval)
	v.SetDefault("probe.fetch_timeout", plugin.DefaultTimeout)
	v.SetDefault("probe.max_output", "1MiB")
	if err := bindFlags(v, l.flags, probeFlags); err != nil {
		return nil, err
	}

	fileErr := readFile(v, l.path)
	if fileErr != nil && !errors.Is(fileErr, ErrConfigNotFound) {
		return nil, fileErr
	}

	maxOutput, err := units.RAMInBytes(v.GetString("probe.max_output"))
	if err != nil {
		return nil, fmt.Errorf("probe.max_output: %w", err)
	}

	cfg := &ProbeConfig{
		Name:          v.GetString("probe.name"),
		ServerAddress: strings.TrimRight(v.GetString("server.address"), "/"),
		ServicesDir:   v.GetString("probe.services"),
		Interval:      v.GetDuration("probe.interval"),
		FetchTimeout:  v.GetDuration("probe.fetch_timeout"),
		MaxOutput:     maxOutput,
		APIAddress:    v.GetString("probe.api_address"),
		WatchServices: v.GetBool("probe.watch_services"),
	}
	if cfg.Name == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("probe name not set and host name unknown: %w", err)
		}
		cfg.Name = host
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("probe.interval must be positive, got %s", cfg.Interval)
	}
	return cfg, fileErr
}

// LoadServer reads the collector configuration. The database path falls
// back to DATABASE_PATH. path may be empty.
func LoadServer(fs *pflag.FlagSet, path string) (*ServerConfig, error) {
	v := newViper()
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("notify.ntfy_url", "https://ntfy.sh")
	if err := bindFlags(v, fs, serverFlags); err != nil {
		return nil, err
	}
	if path != "" {
		if err := readFile(v, path); err != nil {
			return nil, err
		}
	}

	dbPath := v.GetString("server.database")
	if dbPath == "" {
		dbPath = os.Getenv("DATABASE_PATH")
	}
	if dbPath == "" {
		dbPath = DefaultDatabasePath
	}

	return &ServerConfig{
		Listen:       v.GetString("server.listen"),
		DatabasePath: dbPath,
		Notify: NotifyConfig{
			NtfyURL:   strings.TrimRight(v.GetString("notify.ntfy_url"), "/"),
			NtfyTopic: v.GetString("notify.ntfy_topic"),
			NtfyToken: v.GetString("notify.ntfy_token"),

			PushoverToken: v.GetString("notify.pushover_token"),
			PushoverUser:  v.GetString("notify.pushover_user"),
		},
	}, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, names map[string]string) error {
	for flag, key := range names {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// readFile parses an INI style file into the config layer of v. Entries
// outside a section are top level keys.
func readFile(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrConfigNotFound)
	}
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	doc, err := minifmt.Parse(f, "")
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	settings := make(map[string]any)
	for _, section := range doc.Sections() {
		if section.Name == "" {
			for _, e := range section.Entries() {
				settings[e.Key] = e.Value
			}
			continue
		}
		values := make(map[string]any, len(section.Entries()))
		for _, e := range section.Entries() {
			values[e.Key] = e.Value
		}
		settings[section.Name] = values
	}

	return v.MergeConfigMap(settings)
}
