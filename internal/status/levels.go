// Package status derives the health status of a monitored instance from its
// readings and the threshold rules of its plugin.
package status

import (
	"fmt"
	"sort"
)

// LevelID identifies a status level in storage.
type LevelID int64

// Level is a status severity. Levels are evaluated in ascending Rank and the
// last violated one wins, so Rank must grow with severity.
type Level struct {
	ID   LevelID `json:"id"`
	Name string  `json:"name"`
	Rank int     `json:"rank"`
}

// OKName is the name of the level reported when no rule is violated.
const OKName = "ok"

// NoneName is how a null status is rendered in logs and notifications.
const NoneName = "none"

// Levels is an immutable, rank-ordered set of status levels.
type Levels struct {
	ordered []Level
	byID    map[LevelID]Level
	byName  map[string]Level
	ok      Level
}

// NewLevels validates and orders levels. Exactly one level must be named "ok".
func NewLevels(levels ...Level) (*Levels, error) {
	l := &Levels{
		byID:   make(map[LevelID]Level, len(levels)),
		byName: make(map[string]Level, len(levels)),
	}
	for _, lvl := range levels {
		if _, dup := l.byID[lvl.ID]; dup {
			return nil, fmt.Errorf("duplicate status level id %d", lvl.ID)
		}
		if _, dup := l.byName[lvl.Name]; dup {
			return nil, fmt.Errorf("duplicate status level name %q", lvl.Name)
		}
		l.byID[lvl.ID] = lvl
		l.byName[lvl.Name] = lvl
		l.ordered = append(l.ordered, lvl)
	}

	ok, found := l.byName[OKName]
	if !found {
		return nil, fmt.Errorf("status level %q is not defined", OKName)
	}
	l.ok = ok

	sort.SliceStable(l.ordered, func(i, j int) bool {
		if l.ordered[i].Rank != l.ordered[j].Rank {
			return l.ordered[i].Rank < l.ordered[j].Rank
		}
		return l.ordered[i].ID < l.ordered[j].ID
	})
	return l, nil
}

// DefaultLevels returns the levels seeded by the initial migration.
func DefaultLevels() *Levels {
	l, err := NewLevels(
		Level{ID: 10, Name: OKName, Rank: 10},
		Level{ID: 20, Name: "warning", Rank: 20},
		Level{ID: 30, Name: "error", Rank: 30},
	)
	if err != nil {
		panic(err)
	}
	return l
}

// All returns the levels in ascending rank.
func (l *Levels) All() []Level {
	return l.ordered
}

// OK returns the baseline level.
func (l *Levels) OK() Level {
	return l.ok
}

// ByID looks up a level.
func (l *Levels) ByID(id LevelID) (Level, bool) {
	lvl, ok := l.byID[id]
	return lvl, ok
}

// ByName looks up a level.
func (l *Levels) ByName(name string) (Level, bool) {
	lvl, ok := l.byName[name]
	return lvl, ok
}

// Name renders a nullable level id.
func (l *Levels) Name(id *LevelID) string {
	if id == nil {
		return NoneName
	}
	if lvl, ok := l.byID[*id]; ok {
		return lvl.Name
	}
	return fmt.Sprintf("unknown(%d)", *id)
}

func (l *Levels) rank(id LevelID) int {
	if lvl, ok := l.byID[id]; ok {
		return lvl.Rank
	}
	return int(id)
}
