package plugin

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// WriteConfig renders d in the format ParseDescriptor reads.
func (d *Descriptor) WriteConfig(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if d.Description != "" {
		writeEntry(bw, descriptionKey, d.Description)
	}

	if len(d.Options) > 0 {
		fmt.Fprintf(bw, "\n[%s]\n", optionsSection)
		for _, o := range d.Options {
			writeEntry(bw, o.Identifier, o.Name)
			writeEntry(bw, o.Identifier+".type", string(o.Type))
			if o.Description != "" {
				writeEntry(bw, o.Identifier+".description", o.Description)
			}
			if o.Required {
				writeEntry(bw, o.Identifier+".required", "1")
			}
			if o.HasDefault || o.Default != "" {
				writeEntry(bw, o.Identifier+".default", o.Default)
			}
		}
	}

	if len(d.Thresholds) > 0 {
		fmt.Fprintf(bw, "\n[%s]\n", thresholdsSection)
		for _, t := range d.Thresholds {
			prefix := t.Pattern + "." + t.Status
			if t.Min != nil {
				writeEntry(bw, prefix+".min", strconv.FormatInt(*t.Min, 10))
			}
			if t.Max != nil {
				writeEntry(bw, prefix+".max", strconv.FormatInt(*t.Max, 10))
			}
		}
	}
	return bw.Flush()
}

// WriteFetch renders readings as a [fetch] section, sorted by name.
func WriteFetch(w io.Writer, readings map[string]string) error {
	names := make([]string, 0, len(readings))
	for name := range readings {
		names = append(names, name)
	}
	sort.Strings(names)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "[%s]\n", ActionFetch)
	for _, name := range names {
		writeEntry(bw, name, readings[name])
	}
	return bw.Flush()
}

// writeEntry writes a key with a possibly multi-line value as indented
// continuation lines.
func writeEntry(w *bufio.Writer, key, value string) {
	lines := strings.Split(value, "\n")
	fmt.Fprintf(w, "%s = %s\n", key, lines[0])
	for _, line := range lines[1:] {
		fmt.Fprintf(w, "    %s\n", line)
	}
}
