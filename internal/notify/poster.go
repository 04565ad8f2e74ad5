package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// poster delivers requests for a channel. Server errors and transport
// failures are retried; client errors are not.
type poster struct {
	client *http.Client
	retry  func() backoff.BackOff
}

func newPoster() poster {
	return poster{
		client: &http.Client{Timeout: 10 * time.Second},
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
	}
}

// post sends the request newRequest builds, once per attempt.
func (p poster) post(ctx context.Context, service string, newRequest func(ctx context.Context) (*http.Request, error)) error {
	op := func() error {
		req, err := newRequest(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 300 {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(p.retry(), ctx))
}
