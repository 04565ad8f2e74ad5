package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jandubois/mon/internal/plugin"
)

// Client talks to the collector's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// retry is the backoff policy for reading submission.
	retry func() backoff.BackOff
}

// NewClient creates a client for the collector at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// RegisterRequest reports the plugins found on this probe.
type RegisterRequest struct {
	Name     string               `json:"name"`
	Services []*plugin.Descriptor `json:"services"`
}

// RegisterResponse summarizes what the collector changed.
type RegisterResponse struct {
	ProbeID int64    `json:"probe_id"`
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

// Reading is one submitted value.
type Reading struct {
	Instance  int64  `json:"service"`
	Reading   string `json:"reading"`
	Value     int64  `json:"value"`
	Timestamp string `json:"timestamp"`
}

// StatusError is returned for responses with a 4xx or 5xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Body)
}

// Register registers the probe and its plugins with the collector.
func (c *Client) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.do(ctx, http.MethodPut, "/api/v1/probe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Mappings fetches the active instances assigned to probe.
func (c *Client) Mappings(ctx context.Context, probe string) ([]Mapping, error) {
	var mappings []Mapping
	path := "/api/v1/services/" + url.PathEscape(probe) + "?status=active"
	if err := c.do(ctx, http.MethodGet, path, nil, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

// SubmitReadings sends a batch with exponential backoff. Client errors are
// not retried.
func (c *Client) SubmitReadings(ctx context.Context, probe string, readings []Reading) error {
	path := "/api/v1/readings/" + url.PathEscape(probe)
	attempt := 0
	op := func() error {
		attempt++
		err := c.do(ctx, http.MethodPut, path, readings, nil)
		if err == nil {
			return nil
		}
		if se, ok := err.(*StatusError); ok && se.Code < 500 {
			return backoff.Permanent(err)
		}
		slog.Warn("submitting readings failed, retrying", "attempt", attempt, "error", err)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(c.retry(), ctx)); err != nil {
		return fmt.Errorf("submit %d readings after %d attempts: %w", len(readings), attempt, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, response any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if response != nil {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
