package notify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const pushoverEndpoint = "https://api.pushover.net/1/messages.json"

// PushoverConfig configures a Pushover channel.
type PushoverConfig struct {
	APIToken string
	UserKey  string
}

// PushoverChannel sends messages to a Pushover user.
type PushoverChannel struct {
	cfg      PushoverConfig
	endpoint string
	poster
}

// NewPushoverChannel creates a Pushover channel.
func NewPushoverChannel(cfg PushoverConfig) *PushoverChannel {
	return &PushoverChannel{cfg: cfg, endpoint: pushoverEndpoint, poster: newPoster()}
}

func (p *PushoverChannel) Type() string {
	return "pushover"
}

// Send posts msg. Urgent messages use emergency priority and repeat until
// acknowledged, at most for an hour.
func (p *PushoverChannel) Send(ctx context.Context, msg *Message) error {
	form := p.form(msg).Encode()
	return p.post(ctx, "pushover", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

func (p *PushoverChannel) form(msg *Message) url.Values {
	form := url.Values{}
	form.Set("token", p.cfg.APIToken)
	form.Set("user", p.cfg.UserKey)
	form.Set("title", msg.Title)
	form.Set("message", msg.Body)
	form.Set("priority", strconv.Itoa(int(msg.Priority)-1))
	if msg.Priority == PriorityUrgent {
		form.Set("retry", "60")
		form.Set("expire", "3600")
	}
	return form
}
