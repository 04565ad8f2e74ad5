package status

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Instance is the status state of one monitored instance.
type Instance struct {
	ID        int64
	ServiceID int64
	Name      string
	Current   *LevelID
	Since     *time.Time
}

// Transition is one change of an instance's status.
type Transition struct {
	InstanceID int64
	Instance   string
	Reading    string
	Value      int64
	From       *LevelID
	To         *LevelID
	At         time.Time
}

// Writer persists status changes. It is implemented by a storage transaction.
type Writer interface {
	UpdateInstanceStatus(ctx context.Context, instanceID int64, status *LevelID, since *time.Time) error
	AppendHistory(ctx context.Context, instanceID int64, status *LevelID, at time.Time) error
}

// Engine applies readings to instance status.
type Engine struct {
	matcher *Matcher
	now     func() time.Time
}

// NewEngine creates an engine. now defaults to time.Now.
func NewEngine(matcher *Matcher, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{matcher: matcher, now: now}
}

// Matcher returns the engine's matcher.
func (e *Engine) Matcher() *Matcher {
	return e.matcher
}

// Apply evaluates one reading value for inst. rules are all threshold rules
// of the instance's plugin; with none the instance only collects data and its
// status is cleared. On a change inst is updated in place, the change is
// written through w and returned. Without a change Apply returns nil.
func (e *Engine) Apply(ctx context.Context, w Writer, inst *Instance, rules []Rule, reading string, value int64) (*Transition, error) {
	var next *LevelID
	if len(rules) > 0 {
		next = lo.ToPtr(e.matcher.Resolve(reading, value, rules))
	}

	if sameLevel(inst.Current, next) {
		return nil, nil
	}

	now := e.now().UTC()
	var since *time.Time
	if next != nil {
		since = &now
	}

	if err := w.UpdateInstanceStatus(ctx, inst.ID, next, since); err != nil {
		return nil, fmt.Errorf("update status of instance %d: %w", inst.ID, err)
	}
	if err := w.AppendHistory(ctx, inst.ID, next, now); err != nil {
		return nil, fmt.Errorf("append status history of instance %d: %w", inst.ID, err)
	}

	t := &Transition{
		InstanceID: inst.ID,
		Instance:   inst.Name,
		Reading:    reading,
		Value:      value,
		From:       inst.Current,
		To:         next,
		At:         now,
	}
	inst.Current = next
	inst.Since = since
	return t, nil
}

func sameLevel(a, b *LevelID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
