package status

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/gobwas/glob"
)

// Origin records who defined a rule.
type Origin string

const (
	// OriginService rules are the defaults a plugin reports when it registers.
	OriginService Origin = "service"
	// OriginConfiguration rules are user overrides; registration never replaces them.
	OriginConfiguration Origin = "configuration"
)

// Rule is a threshold for readings whose name matches Pattern. Values outside
// [Min, Max] put the instance into Level; a nil bound is unbounded.
type Rule struct {
	Level   LevelID `json:"status"`
	Pattern string  `json:"reading"`
	Min     *int64  `json:"min"`
	Max     *int64  `json:"max"`
	Origin  Origin  `json:"origin"`
}

// Violated reports whether value lies outside the rule's bounds.
func (r Rule) Violated(value int64) bool {
	if r.Min != nil && value < *r.Min {
		return true
	}
	if r.Max != nil && value > *r.Max {
		return true
	}
	return false
}

// Specificity scores how closely a pattern targets a reading. Longer
// patterns outrank shorter ones.
func (r Rule) Specificity() int {
	return len(r.Pattern)
}

// Matcher resolves the status a reading value indicates. Compiled patterns
// are cached; a Matcher is safe for concurrent use.
type Matcher struct {
	levels *Levels

	mu    sync.Mutex
	globs map[string]glob.Glob
}

// NewMatcher creates a matcher ordering levels by rank.
func NewMatcher(levels *Levels) *Matcher {
	return &Matcher{
		levels: levels,
		globs:  make(map[string]glob.Glob),
	}
}

// Levels returns the levels the matcher evaluates.
func (m *Matcher) Levels() *Levels {
	return m.levels
}

// Match reports whether reading matches pattern. Matching is case-sensitive
// and "*" crosses dots. An invalid pattern never matches.
func (m *Matcher) Match(pattern, reading string) bool {
	g := m.compile(pattern)
	return g != nil && g.Match(reading)
}

func (m *Matcher) compile(pattern string) glob.Glob {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.globs[pattern]; ok {
		return g
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		slog.Warn("invalid threshold pattern, never matches", "pattern", pattern, "error", err)
		g = nil
	}
	m.globs[pattern] = g
	return g
}

// Applicable returns, per level, the most specific rule matching reading.
// The result is ordered by ascending level rank. Equal specificity keeps
// the rule seen first.
func (m *Matcher) Applicable(reading string, rules []Rule) []Rule {
	best := make(map[LevelID]Rule)
	for _, r := range rules {
		if !m.Match(r.Pattern, reading) {
			continue
		}
		if cur, ok := best[r.Level]; ok && cur.Specificity() >= r.Specificity() {
			continue
		}
		best[r.Level] = r
	}

	out := make([]Rule, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := m.levels.rank(out[i].Level), m.levels.rank(out[j].Level)
		if ri != rj {
			return ri < rj
		}
		return out[i].Level < out[j].Level
	})
	return out
}

// Resolve returns the status value indicates for reading. Every applicable
// rule is checked in ascending rank and the last violated one wins; with no
// violation the result is the ok level.
func (m *Matcher) Resolve(reading string, value int64, rules []Rule) LevelID {
	result := m.levels.OK().ID
	for _, r := range m.Applicable(reading, rules) {
		if r.Violated(value) {
			result = r.Level
		}
	}
	return result
}
