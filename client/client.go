package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/bunny/client/throttle"
)

// Client dispatches [Request] values built against one set of
// [Credentials]. It is safe for concurrent use; the only state shared
// between operations is the read-only Credentials and the connection pool
// of the underlying transport.
type Client struct {
	c       *http.Client
	creds   *Credentials
	logger  *slog.Logger
	tracer  trace.Tracer
	retry   RetryPolicy
	timeout time.Duration
	pool    *poolTracker
}

// Build creates a Client for creds. Unless overridden, it uses
// [http.DefaultTransport], [DefaultRetryPolicy], [DefaultTimeout],
// [DefaultUserAgent], slog.Default() and a no-op tracer.
func Build(creds *Credentials, optFns ...Option) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("%w: credentials must not be nil", ErrConfig)
	}

	client := &Client{
		c:       &http.Client{},
		creds:   creds,
		logger:  slog.Default(),
		retry:   DefaultRetryPolicy,
		timeout: DefaultTimeout,
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("%w: applying client option: %w", ErrConfig, err)
		}
	}

	if opts.client != nil {
		hc := *opts.client
		client.c = &hc
	}

	if opts.logger != nil {
		client.logger = opts.logger
	}

	if opts.tracer != nil {
		client.tracer = opts.tracer
	} else {
		client.tracer = noop.NewTracerProvider().Tracer("bunny")
	}

	if opts.retry != nil {
		client.retry = *opts.retry
	}

	if opts.timeout != nil {
		client.timeout = *opts.timeout
	}

	if opts.noFollowRedirects {
		client.c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		transport = opts.client.Transport
	default:
		transport = http.DefaultTransport
	}

	ua := DefaultUserAgent
	if opts.userAgent != "" {
		ua = opts.userAgent
	}
	transport = userAgent{value: ua, base: transport}

	if opts.throttle != nil {
		rt, err := throttle.NewRoundTripper(*opts.throttle, func() *slog.Logger { return client.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("%w: configuring throttle: %w", ErrConfig, err)
		}
		transport = rt
	}

	client.pool = &poolTracker{next: transport}
	client.c.Transport = client.pool

	return client, nil
}

// Do dispatches req and, on a 2xx answer, decodes the JSON body into the
// destination given with [WithDestination]. A body that fails to decode
// yields a [DecodeError].
func (c *Client) Do(ctx context.Context, req *Request, opts ...DoOption) error {
	var settings doOpts
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return err
		}
	}

	resp, err := c.Dispatch(ctx, req)
	if err != nil {
		return err
	}

	discardBody := true
	defer func() {
		if discardBody {
			if err := resp.Discard(); err != nil {
				c.logger.Error("failed to discard unused body", "error", err)
			}
			return
		}
		if err := resp.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	if settings.responseBody == nil {
		return nil
	}

	if err := c.decode(resp, settings); err != nil {
		discardBody = false
		return err
	}

	return nil
}

// decode reads resp as JSON, keeping a short excerpt to report if the body
// turns out not to match the destination.
func (c *Client) decode(resp *Response, settings doOpts) error {
	var excerpt bytes.Buffer
	body := io.TeeReader(resp.Body, &limitedWriter{w: &excerpt, n: maxErrBodySize})

	d := json.NewDecoder(body)
	if settings.useJSONNum {
		d.UseNumber()
	}

	err := d.Decode(settings.responseBody)
	if err == nil {
		return nil
	}

	if ctxErr := resp.ctx.Err(); ctxErr != nil {
		return c.transportError(resp.ctx, ctxErr)
	}

	derr := &DecodeError{
		StatusCode: resp.StatusCode,
		Excerpt:    c.creds.scrub(excerpt.String()),
		Err:        err,
	}
	if errors.Is(err, io.EOF) {
		derr.Err = fmt.Errorf("empty body: %w", err)
	}

	c.logger.Error("response did not match expected shape", "status", resp.StatusCode, "error", derr.Err, "excerpt", derr.Excerpt)

	return derr
}

// Logger returns the logger the Client was built with.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Credentials returns the Client's credentials.
func (c *Client) Credentials() *Credentials {
	return c.creds
}

// PoolStats reports how response bodies have been released so far.
func (c *Client) PoolStats() PoolStats {
	return c.pool.stats()
}

// limitedWriter keeps the first n bytes written to it and drops the rest.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}

	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	n, err := l.w.Write(keep)
	l.n -= n
	if err != nil {
		return n, err
	}

	return len(p), nil
}
