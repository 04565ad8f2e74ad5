// Package notify delivers status transitions to push notification services.
package notify

import (
	"context"
	"fmt"

	"github.com/jandubois/mon/internal/status"
)

// Channel is a notification channel.
type Channel interface {
	Send(ctx context.Context, msg *Message) error
	Type() string
}

// Message contains notification details.
type Message struct {
	Title    string
	Body     string
	Priority Priority
	Tags     []string
}

// Priority levels for notifications.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// StatusChange is a transition with its statuses resolved to names.
type StatusChange struct {
	Probe     string
	Instance  string
	Reading   string
	Value     int64
	OldStatus string
	NewStatus string
}

// NewStatusChange names the statuses of t using levels.
func NewStatusChange(probe string, t status.Transition, levels *status.Levels) *StatusChange {
	change := &StatusChange{
		Probe:     probe,
		Instance:  t.Instance,
		Reading:   t.Reading,
		Value:     t.Value,
		NewStatus: levels.Name(t.To),
	}
	if t.From != nil {
		change.OldStatus = levels.Name(t.From)
	}
	return change
}

// FormatStatusChange creates a notification message for a status change.
// Priority follows the rank of the new status: the baseline is normal, the
// highest rank is urgent and everything between is high.
func FormatStatusChange(change *StatusChange, levels *status.Levels) *Message {
	priority := PriorityNormal
	all := levels.All()
	if lvl, ok := levels.ByName(change.NewStatus); ok && lvl.ID != levels.OK().ID {
		priority = PriorityHigh
		if lvl.Rank == all[len(all)-1].Rank {
			priority = PriorityUrgent
		}
	}
	if change.NewStatus == status.NoneName {
		priority = PriorityLow
	}

	title := fmt.Sprintf("[%s] %s on %s", change.NewStatus, change.Instance, change.Probe)
	body := fmt.Sprintf("%s = %d", change.Reading, change.Value)
	if change.OldStatus != "" {
		body = fmt.Sprintf("%s → %s: %s", change.OldStatus, change.NewStatus, body)
	}

	tags := []string{change.NewStatus}
	if change.OldStatus != "" && change.NewStatus == levels.OK().Name {
		tags = append(tags, "recovery")
	}

	return &Message{
		Title:    title,
		Body:     body,
		Priority: priority,
		Tags:     tags,
	}
}
