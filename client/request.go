package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// RequestIDHeader carries the per-operation correlation id.
const RequestIDHeader = "X-Request-Id"

// Request describes one logical operation. It is built with [NewRequest],
// handed to [Client.Dispatch] or [Client.Do] exactly once, and may span
// several HTTP attempts when transient failures are retried.
type Request struct {
	Method string
	// Path is resolved against the credentials' base URL. Each segment is
	// escaped; a trailing slash is kept.
	Path  string
	Query url.Values

	header      []headerField
	contentType string
	accept      string

	body     io.Reader
	size     int64
	getBody  func() (io.Reader, error)
	progress func(sent int64)

	dispatched atomic.Bool
	attempts   atomic.Int32
}

type headerField struct {
	key   string
	value string
}

// RequestOption is a functional option for [NewRequest].
type RequestOption func(opts *requestOpts) error

type requestOpts struct {
	query       url.Values
	header      []headerField
	payload     any
	contentType *string
	accept      string
	body        io.Reader
	size        int64
	progress    func(int64)
}

// NewRequest builds a Request for method and path. Content-Type defaults to
// `application/json` for payloads set with [WithPayload] and to
// `application/octet-stream` for streams set with [WithBody].
func NewRequest(method, path string, optFns ...RequestOption) (*Request, error) {
	if method == "" {
		return nil, errors.New("method must not be empty")
	}

	opts := requestOpts{size: -1}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying request option: %w", err)
		}
	}

	if opts.payload != nil && opts.body != nil {
		return nil, errors.New("payload and body are mutually exclusive")
	}

	req := Request{
		Method:   method,
		Path:     path,
		Query:    opts.query,
		header:   opts.header,
		accept:   opts.accept,
		size:     opts.size,
		progress: opts.progress,
	}

	switch {
	case opts.payload != nil:
		var payload bytes.Buffer
		if err := json.NewEncoder(&payload).Encode(opts.payload); err != nil {
			return nil, fmt.Errorf("encoding request payload: %w", err)
		}

		data := payload.Bytes()
		req.body = bytes.NewReader(data)
		req.size = int64(len(data))
		req.getBody = func() (io.Reader, error) { return bytes.NewReader(data), nil }
		req.contentType = "application/json"

	case opts.body != nil:
		req.body = opts.body
		req.contentType = "application/octet-stream"

		if s, ok := opts.body.(io.Seeker); ok {
			start, err := s.Seek(0, io.SeekCurrent)
			if err == nil {
				req.getBody = func() (io.Reader, error) {
					if _, err := s.Seek(start, io.SeekStart); err != nil {
						return nil, fmt.Errorf("rewinding body: %w", err)
					}
					return opts.body, nil
				}
			}
		}

	default:
		req.size = 0
	}

	if opts.contentType != nil {
		req.contentType = *opts.contentType
	}

	return &req, nil
}

// Attempts returns how many HTTP attempts the Request has used so far.
func (r *Request) Attempts() int {
	return int(r.attempts.Load())
}

// build turns the Request into an *http.Request for one attempt.
func (c *Client) build(ctx context.Context, r *Request, body io.Reader, requestID string) (*http.Request, error) {
	u := c.creds.resolve(r.Path, r.Query)

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	if body != nil {
		req.ContentLength = r.size
		if r.size == 0 {
			req.Body = http.NoBody
		}
	}

	c.creds.Apply(req.Header)
	req.Header.Set(RequestIDHeader, requestID)

	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}

	for _, f := range r.header {
		req.Header.Add(f.key, f.value)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

// attemptBody wraps the request body for a single attempt. It counts the
// bytes the transport pulled from the source and can be fenced, after which
// a transport goroutine still holding it can no longer read from the source.
type attemptBody struct {
	mu       sync.Mutex
	r        io.Reader
	n        int64
	fenced   bool
	srcErr   error
	progress func(int64)
}

func (b *attemptBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fenced {
		return 0, errBodyFenced
	}

	n, err := b.r.Read(p)
	b.n += int64(n)
	if n > 0 && b.progress != nil {
		b.progress(b.n)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		b.srcErr = err
	}

	return n, err
}

// Close fences the body. The caller owns the underlying source, so it is
// never closed here.
func (b *attemptBody) Close() error {
	b.fence()
	return nil
}

func (b *attemptBody) fence() (read int64, srcErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fenced = true
	return b.n, b.srcErr
}

var errBodyFenced = errors.New("request body already released")

// bodyFor returns the body to send on the given attempt. prevRead is the
// number of bytes the previous attempt pulled from the source. ok is false
// when the body cannot be sent again.
func (r *Request) bodyFor(attempt int, prevRead int64) (body *attemptBody, ok bool, err error) {
	if r.body == nil {
		return nil, true, nil
	}

	src := r.body
	switch {
	case attempt == 1:
	case r.getBody != nil:
		src, err = r.getBody()
		if err != nil {
			return nil, false, err
		}
	case prevRead == 0:
		// Nothing was pulled from the source yet, so it can be offered again.
	default:
		return nil, false, nil
	}

	if r.progress != nil {
		r.progress(0)
	}

	return &attemptBody{r: src, progress: r.progress}, true, nil
}

// replayable reports whether the body could be sent again after an attempt
// that read prevRead bytes from it.
func (r *Request) replayable(prevRead int64) bool {
	return r.body == nil || r.getBody != nil || prevRead == 0
}

// WithQuery adds a query parameter to the request URL.
func WithQuery(key, value string) RequestOption {
	return func(opts *requestOpts) error {
		if opts.query == nil {
			opts.query = url.Values{}
		}
		opts.query.Add(key, value)

		return nil
	}
}

// WithHeader appends a header. Headers are applied in the order given.
func WithHeader(key, value string) RequestOption {
	return func(opts *requestOpts) error {
		if key == "" {
			return errors.New("header key must not be empty")
		}
		opts.header = append(opts.header, headerField{key: key, value: value})

		return nil
	}
}

// WithPayload sets a JSON-encoded request body. The encoded bytes are kept
// in memory so the request can be retried.
func WithPayload(body any) RequestOption {
	return func(opts *requestOpts) error {
		opts.payload = body

		return nil
	}
}

// WithBody streams r as the request body. size is the exact number of bytes
// r will produce, or -1 when unknown, in which case chunked transfer
// encoding is used. Bodies implementing [io.Seeker] are rewound for
// retries; other bodies are only retried if nothing was read from them yet.
// The client never closes r.
func WithBody(r io.Reader, size int64) RequestOption {
	return func(opts *requestOpts) error {
		if r == nil {
			return errors.New("body must not be nil")
		}
		if size < -1 {
			return fmt.Errorf("body size must be -1 or greater, got %d", size)
		}
		opts.body = r
		opts.size = size

		return nil
	}
}

// WithBodyProgress registers fn to receive the number of body bytes sent on
// the current attempt. fn receives 0 whenever an attempt starts.
func WithBodyProgress(fn func(sent int64)) RequestOption {
	return func(opts *requestOpts) error {
		opts.progress = fn

		return nil
	}
}

// WithContentType overrides the default Content-Type header.
func WithContentType(contentType string) RequestOption {
	return func(opts *requestOpts) error {
		if contentType == "" {
			return errors.New("cannot use empty content type")
		}

		opts.contentType = &contentType

		return nil
	}
}

// WithAccept sets the Accept header.
func WithAccept(accept string) RequestOption {
	return func(opts *requestOpts) error {
		opts.accept = accept

		return nil
	}
}
