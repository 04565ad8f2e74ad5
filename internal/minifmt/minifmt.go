// Package minifmt parses the line-oriented key=value text that plugin
// executables print on stdout.
//
// The format has sections introduced by "[name]" headers and "key = value"
// entries. Keys that appear before the first header belong to an implicit
// section chosen by the caller. Section names and keys must be unique:
// a repeated header or a repeated key within one section fails the whole
// document.
package minifmt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrDuplicateSection = errors.New("duplicate section")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrSyntax           = errors.New("syntax error")
)

// SyntaxError describes why a document was rejected.
type SyntaxError struct {
	Line    int
	Section string
	Key     string
	Err     error
}

func (e *SyntaxError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("line %d: %v %q in section %q", e.Line, e.Err, e.Key, e.Section)
	case e.Section != "":
		return fmt.Sprintf("line %d: %v %q", e.Line, e.Err, e.Section)
	default:
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Entry is a single key/value pair in the order it was read.
type Entry struct {
	Key   string
	Value string
	Line  int
}

// Section holds the entries below one header.
type Section struct {
	Name    string
	entries []Entry
	index   map[string]int
}

// Get returns the value stored under key.
func (s *Section) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	i, ok := s.index[key]
	if !ok {
		return "", false
	}
	return s.entries[i].Value, true
}

// Entries returns the entries in document order.
func (s *Section) Entries() []Entry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Map returns the section as a plain map.
func (s *Section) Map() map[string]string {
	out := make(map[string]string, len(s.Entries()))
	for _, e := range s.Entries() {
		out[e.Key] = e.Value
	}
	return out
}

// Document is a parsed mini-format text.
type Document struct {
	sections []*Section
	index    map[string]*Section
}

// Section returns the named section or nil.
func (d *Document) Section(name string) *Section {
	return d.index[name]
}

// Sections returns all sections in document order, the implicit one first.
func (d *Document) Sections() []*Section {
	return d.sections
}

func (d *Document) addSection(name string, line int) (*Section, error) {
	if _, ok := d.index[name]; ok {
		return nil, &SyntaxError{Line: line, Section: name, Err: ErrDuplicateSection}
	}
	s := &Section{Name: name, index: make(map[string]int)}
	d.sections = append(d.sections, s)
	d.index[name] = s
	return s, nil
}

// Parse reads a document. Entries before the first header are stored in
// the section named implicit.
func Parse(r io.Reader, implicit string) (*Document, error) {
	doc := &Document{index: make(map[string]*Section)}
	current, err := doc.addSection(implicit, 0)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// last is the entry a continuation line appends to; blank lines and
	// headers end it.
	last := -1
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := stripInlineComment(scanner.Text())
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" {
			last = -1
			continue
		}
		if trimmed[0] == '#' || trimmed[0] == ';' {
			continue
		}

		if last >= 0 && isIndented(raw) {
			e := &current.entries[last]
			if e.Value == "" {
				e.Value = trimmed
			} else {
				e.Value += "\n" + trimmed
			}
			continue
		}

		if trimmed[0] == '[' {
			if !strings.HasSuffix(trimmed, "]") {
				return nil, &SyntaxError{Line: lineNo, Err: ErrSyntax}
			}
			name := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			implicitSection := doc.sections[0]
			if name == implicitSection.Name && current == implicitSection && len(current.entries) == 0 {
				// "[implicit]" as the first header names the implicit section.
				last = -1
				continue
			}
			current, err = doc.addSection(name, lineNo)
			if err != nil {
				return nil, err
			}
			last = -1
			continue
		}

		key, value, _ := strings.Cut(trimmed, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, &SyntaxError{Line: lineNo, Section: current.Name, Err: ErrSyntax}
		}
		if _, dup := current.index[key]; dup {
			return nil, &SyntaxError{Line: lineNo, Section: current.Name, Key: key, Err: ErrDuplicateKey}
		}
		current.index[key] = len(current.entries)
		current.entries = append(current.entries, Entry{Key: key, Value: value, Line: lineNo})
		last = len(current.entries) - 1
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	return doc, nil
}

// ParseString is Parse for in-memory text.
func ParseString(text, implicit string) (*Document, error) {
	return Parse(strings.NewReader(text), implicit)
}

// stripInlineComment cuts a "#" comment that follows whitespace.
func stripInlineComment(line string) string {
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i]
		}
	}
	return line
}

func isIndented(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}
