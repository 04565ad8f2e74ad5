package notify

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

const defaultNtfyURL = "https://ntfy.sh"

// NtfyConfig configures an ntfy channel. Token is optional.
type NtfyConfig struct {
	ServerURL string
	Topic     string
	Token     string
}

// NtfyChannel publishes to a topic on ntfy.sh or a self-hosted server.
type NtfyChannel struct {
	topicURL string
	token    string
	poster
}

// NewNtfyChannel creates an ntfy channel.
func NewNtfyChannel(cfg NtfyConfig) *NtfyChannel {
	server := strings.TrimSuffix(cfg.ServerURL, "/")
	if server == "" {
		server = defaultNtfyURL
	}
	return &NtfyChannel{
		topicURL: server + "/" + cfg.Topic,
		token:    cfg.Token,
		poster:   newPoster(),
	}
}

func (n *NtfyChannel) Type() string {
	return "ntfy"
}

// Send publishes msg. The body is the message text; title, priority and
// tags travel in headers.
func (n *NtfyChannel) Send(ctx context.Context, msg *Message) error {
	return n.post(ctx, "ntfy", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, strings.NewReader(msg.Body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Title", msg.Title)
		req.Header.Set("Priority", strconv.Itoa(ntfyPriority[msg.Priority]))
		if len(msg.Tags) > 0 {
			req.Header.Set("Tags", strings.Join(msg.Tags, ","))
		}
		if n.token != "" {
			req.Header.Set("Authorization", "Bearer "+n.token)
		}
		return req, nil
	})
}

// ntfy priorities run from 1 (min) to 5 (max).
var ntfyPriority = map[Priority]int{
	PriorityLow:    2,
	PriorityNormal: 3,
	PriorityHigh:   4,
	PriorityUrgent: 5,
}
