package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPClient retries idempotent failures with exponential backoff behind a circuit breaker.
// Transport errors, 429 and 5xx responses count as failures; other responses are returned as is.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
}

// Options configures NewHTTPClient.
type Options struct {
	Target       string
	Timeout      time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// NewHTTPClient builds a traced client for an outbound dependency.
func NewHTTPClient(opts Options) HTTPClient {
	return HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     NewBreaker(opts.MinRequests, opts.FailureRatio, opts.OpenFor).WithTarget(opts.Target),
		BaseBackoff: opts.BaseBackoff,
		MaxAttempts: opts.MaxAttempts,
		Jitter:      0.2,
		Timeout:     opts.Timeout,
	}
}

// Do sends req, buffering its body so every attempt replays the same bytes.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := cl.Client
	if client == nil {
		client = http.DefaultClient
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(1, 1, time.Second)
	}
	attempts := cl.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, fmt.Errorf("resilience: read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if !breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.once(ctx, client, req, body)
		if err == nil && !retryable(resp.StatusCode) {
			breaker.Report(ctx, true)
			return resp, nil
		}
		breaker.Report(ctx, false)
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("resilience: upstream status %s", resp.Status)
			if attempt == attempts {
				return resp, nil
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(Backoff(cl.BaseBackoff, attempt, cl.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) once(ctx context.Context, client *http.Client, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = client.Timeout
	}
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	attempt := req.Clone(callCtx)
	if body != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(body))
		attempt.ContentLength = int64(len(body))
	}
	resp, err := client.Do(attempt)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
