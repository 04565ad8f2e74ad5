package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jandubois/mon/internal/config"
	"github.com/jandubois/mon/internal/status"
)

// Dispatcher sends committed status transitions to every configured channel.
type Dispatcher struct {
	levels   *status.Levels
	channels []Channel
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the channels enabled in cfg.
func NewDispatcher(cfg config.NotifyConfig, levels *status.Levels) *Dispatcher {
	d := &Dispatcher{levels: levels}
	if cfg.NtfyTopic != "" {
		d.channels = append(d.channels, NewNtfyChannel(NtfyConfig{
			ServerURL: cfg.NtfyURL,
			Topic:     cfg.NtfyTopic,
			Token:     cfg.NtfyToken,
		}))
	}
	if cfg.PushoverToken != "" && cfg.PushoverUser != "" {
		d.channels = append(d.channels, NewPushoverChannel(PushoverConfig{
			APIToken: cfg.PushoverToken,
			UserKey:  cfg.PushoverUser,
		}))
	}
	slog.Info("notification channels configured", "count", len(d.channels))
	return d
}

// Notify sends one message per transition without blocking the caller. The
// sends outlive the request that produced the transitions.
func (d *Dispatcher) Notify(ctx context.Context, probe string, transitions []status.Transition) {
	if len(d.channels) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, t := range transitions {
		change := NewStatusChange(probe, t, d.levels)
		msg := FormatStatusChange(change, d.levels)

		for _, ch := range d.channels {
			d.wg.Add(1)
			go func(ch Channel) {
				defer d.wg.Done()
				if err := ch.Send(ctx, msg); err != nil {
					slog.Error("notification send failed",
						"channel_type", ch.Type(),
						"instance", t.InstanceID,
						"error", err,
					)
				} else {
					slog.Debug("notification sent",
						"channel_type", ch.Type(),
						"probe", probe,
						"instance", t.InstanceID,
						"status", change.NewStatus,
					)
				}
			}(ch)
		}
	}
}

// Wait blocks until all pending sends are done.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
