// Package plugin implements the probe side of the plugin protocol: parsing
// the self-description a plugin prints for "config", discovering plugin
// executables and running them.
package plugin

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jandubois/mon/internal/minifmt"
)

// DataType is the declared type of a plugin option.
type DataType string

const (
	TypeString  DataType = "string"
	TypeInteger DataType = "integer"
	TypeDouble  DataType = "double"
	TypeBool    DataType = "bool"
	TypeList    DataType = "list"
)

// Valid reports whether t is one of the known data types.
func (t DataType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeDouble, TypeBool, TypeList:
		return true
	}
	return false
}

// Section names and reserved keys of the config output.
const (
	configSection     = "config"
	optionsSection    = "options"
	thresholdsSection = "thresholds"
	descriptionKey    = "description"
)

// Option is a configuration value a plugin accepts through its environment.
type Option struct {
	Identifier  string   `json:"identifier"`
	Name        string   `json:"name"`
	Type        DataType `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     string   `json:"default,omitempty"`
	HasDefault  bool     `json:"-"`
}

// Threshold is a default rule a plugin ships for readings matching Pattern.
// Min and Max bound the range in which Status does not apply; nil is unbounded.
type Threshold struct {
	Pattern string `json:"reading"`
	Status  string `json:"status"`
	Min     *int64 `json:"min"`
	Max     *int64 `json:"max"`
}

// Descriptor is what a plugin says about itself. It is rebuilt on every scan.
type Descriptor struct {
	Name        string       `json:"name"`
	Path        string       `json:"path"`
	Description string       `json:"description"`
	Options     []*Option    `json:"options"`
	Thresholds  []*Threshold `json:"thresholds"`
}

// Option returns the option with the given identifier or nil.
func (d *Descriptor) Option(identifier string) *Option {
	for _, o := range d.Options {
		if o.Identifier == identifier {
			return o
		}
	}
	return nil
}

// Threshold returns the default rule for pattern and status or nil.
func (d *Descriptor) Threshold(pattern, status string) *Threshold {
	for _, t := range d.Thresholds {
		if t.Pattern == pattern && t.Status == status {
			return t
		}
	}
	return nil
}

// option subkeys; any other last segment belongs to the identifier.
var optionSubkeys = map[string]bool{
	"type":        true,
	"description": true,
	"required":    true,
	"default":     true,
}

// ParseDescriptor parses the output of "<plugin> config". A structurally
// invalid document (duplicate section or key) is an error; an invalid single
// threshold key is logged and skipped.
func ParseDescriptor(name string, r io.Reader, logger *slog.Logger) (*Descriptor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	doc, err := minifmt.Parse(r, configSection)
	if err != nil {
		return nil, fmt.Errorf("parse config of %s: %w", name, err)
	}

	d := &Descriptor{Name: name}
	d.Description, _ = doc.Section(configSection).Get(descriptionKey)

	for _, e := range doc.Section(optionsSection).Entries() {
		d.setOption(e.Key, e.Value, logger)
	}

	for _, e := range doc.Section(thresholdsSection).Entries() {
		if err := d.setThreshold(e.Key, e.Value); err != nil {
			logger.Error("invalid threshold, skipped", "key", e.Key, "line", e.Line, "error", err)
		}
	}

	return d, nil
}

func (d *Descriptor) setOption(key, value string, logger *slog.Logger) {
	identifier, subkey := key, "name"
	if i := strings.LastIndex(key, "."); i >= 0 && optionSubkeys[key[i+1:]] {
		identifier, subkey = key[:i], key[i+1:]
	}

	opt := d.Option(identifier)
	if opt == nil {
		opt = &Option{Identifier: identifier, Name: identifier, Type: TypeString}
		d.Options = append(d.Options, opt)
	}

	switch subkey {
	case "name":
		opt.Name = value
	case "type":
		t := DataType(value)
		if !t.Valid() {
			logger.Warn("unknown option type, using string", "option", identifier, "type", value)
			t = TypeString
		}
		opt.Type = t
	case "description":
		opt.Description = value
	case "required":
		opt.Required = value == "1"
	case "default":
		opt.Default = value
		opt.HasDefault = true
	}
}

func (d *Descriptor) setThreshold(key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) < 3 {
		return fmt.Errorf("key must have the form {reading}.{status}.(min|max)")
	}
	bound := parts[len(parts)-1]
	if bound != "min" && bound != "max" {
		return fmt.Errorf("key must end with .min or .max")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("value %q is not an integer", value)
	}

	pattern := strings.Join(parts[:len(parts)-2], ".")
	status := parts[len(parts)-2]

	t := d.Threshold(pattern, status)
	if t == nil {
		t = &Threshold{Pattern: pattern, Status: status}
		d.Thresholds = append(d.Thresholds, t)
	}
	if bound == "min" {
		t.Min = &n
	} else {
		t.Max = &n
	}
	return nil
}
