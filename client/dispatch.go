package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errAlreadyDispatched = errors.New("request already dispatched")

// Dispatch executes req, retrying transient failures under the Client's
// [RetryPolicy], and returns the 2xx response with its body still
// streaming. Any other outcome is returned as a typed error: see
// [StatusError], [TransferError] and the sentinels in this package.
//
// The operation deadline set with [WithTimeout] keeps running while the
// body is read and ends when the body is closed.
func (c *Client) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request must not be nil")
	}
	if req.dispatched.Swap(true) {
		return nil, errAlreadyDispatched
	}

	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	requestID := uuid.New().String()
	ctx, span := c.tracer.Start(ctx, "bunny.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("bunny.request_id", requestID),
		),
	)
	defer span.End()

	resp, err := c.dispatch(ctx, req, requestID)
	span.SetAttributes(attribute.Int("bunny.attempts", req.Attempts()))
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	return &Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          &opBody{ReadCloser: resp.Body, cancel: cancel},
		Attempts:      req.Attempts(),
		ctx:           ctx,
	}, nil
}

func (c *Client) dispatch(ctx context.Context, req *Request, requestID string) (*http.Response, error) {
	logger := c.logger.With("method", req.Method, "path", req.Path, "request_id", requestID)
	span := trace.SpanFromContext(ctx)

	var prevRead int64
	for attempt := 1; ; attempt++ {
		body, ok, err := req.bodyFor(attempt, prevRead)
		if err != nil {
			return nil, &TransferError{Op: "replay", Path: req.Path, Err: err}
		}
		if !ok {
			return nil, &TransferError{Op: "send", Path: req.Path, Transferred: prevRead, Err: ErrBodyNotReplayable}
		}

		var rb io.Reader
		if body != nil {
			rb = body
		}

		httpReq, err := c.build(ctx, req, rb, requestID)
		if err != nil {
			return nil, err
		}

		req.attempts.Store(int32(attempt))
		logger.Debug("dispatching request", "attempt", attempt)

		resp, err := c.c.Do(httpReq)

		if err != nil {
			var srcErr error
			if body != nil {
				prevRead, srcErr = body.fence()
			}

			switch {
			case srcErr != nil:
				return nil, &TransferError{Op: "send", Path: req.Path, Transferred: prevRead, Err: srcErr}
			case ctx.Err() != nil || !transient(err):
				return nil, c.transportError(ctx, req, prevRead, err)
			case attempt >= c.retry.MaxAttempts:
				return nil, c.transportError(ctx, req, prevRead, fmt.Errorf("giving up after %d attempts: %w", attempt, err))
			case !req.replayable(prevRead):
				return nil, &TransferError{Op: "send", Path: req.Path, Transferred: prevRead, Err: errors.Join(ErrBodyNotReplayable, err)}
			}

			delay := c.retry.Delay(attempt - 1)
			logger.Warn("retrying request", "attempt", attempt, "error", err, "delay", delay)
			span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt), attribute.String("error", err.Error())))

			if err := sleep(ctx, delay); err != nil {
				return nil, c.transportError(ctx, req, prevRead, err)
			}
			continue
		}

		if retryableStatus(resp.StatusCode) && attempt < c.retry.MaxAttempts {
			if body != nil {
				var srcErr error
				if prevRead, srcErr = body.fence(); srcErr != nil {
					c.discard(resp)
					return nil, &TransferError{Op: "send", Path: req.Path, Transferred: prevRead, Err: srcErr}
				}
			}

			if req.replayable(prevRead) {
				delay := max(c.retry.Delay(attempt-1), min(retryAfter(resp.Header, time.Now()), c.retry.MaxDelay))
				c.discard(resp)

				logger.Warn("retrying request", "attempt", attempt, "status", resp.StatusCode, "delay", delay)
				span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt), attribute.Int("status", resp.StatusCode)))

				if err := sleep(ctx, delay); err != nil {
					return nil, c.transportError(ctx, req, prevRead, err)
				}
				continue
			}

			serr := c.interpret(resp, attempt)
			return nil, &TransferError{Op: "send", Path: req.Path, Transferred: prevRead, Err: errors.Join(ErrBodyNotReplayable, serr)}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, c.interpret(resp, attempt)
		}

		return resp, nil
	}
}

// transportError classifies a failure that produced no response. Deadlines
// match ErrTimeout; anything else is a TransferError, marked transient when
// err is a connection failure worth retrying later.
func (c *Client) transportError(ctx context.Context, req *Request, transferred int64, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return &TransferError{Op: "send", Path: req.Path, Transferred: transferred, Transient: ctx.Err() == nil && transient(err), Err: err}
}

// discard drains and closes a response that will not be used.
func (c *Client) discard(resp *http.Response) {
	r := &Response{Body: resp.Body}
	if err := r.Discard(); err != nil {
		c.logger.Error("failed to discard unused body", "error", err)
	}
}
