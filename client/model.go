package client

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// Version is reported in the default User-Agent.
const Version = "0.4.0"

// DefaultUserAgent identifies this library to the provider.
const DefaultUserAgent = "bunny-go/" + Version

// DefaultTimeout is the total deadline of an operation unless [WithTimeout]
// overrides it.
const DefaultTimeout = 30 * time.Second

// maxErrBodySize caps the amount of response body read when
// building an error for an unexpected status code. This prevents
// unbounded memory usage when a large response arrives with a
// wrong status.
const maxErrBodySize = 4 << 10 // 4KB

// maxDrainSize caps how much of an unused body is read so its connection can
// be reused. Larger remainders are cheaper to drop with the connection.
const maxDrainSize = 64 << 10 // 64KB

// Response is the envelope returned by [Client.Dispatch] for a 2xx answer.
// Body streams straight from the connection; the caller must Close it, or
// Discard it when the content is not needed.
type Response struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
	// Attempts is the number of HTTP attempts the operation used.
	Attempts int

	ctx context.Context
}

// Context returns the operation context, which carries the deadline the
// body is read under.
func (r *Response) Context() context.Context {
	return r.ctx
}

// Close releases the response. A body not read to EOF closes its
// connection instead of returning it to the pool.
func (r *Response) Close() error {
	return r.Body.Close()
}

// Discard drains a small remainder of the body and closes it, so the
// connection can be reused.
func (r *Response) Discard() error {
	_, _ = io.CopyN(io.Discard, r.Body, maxDrainSize)
	return r.Body.Close()
}

// opBody ends the operation context once the body is closed.
type opBody struct {
	io.ReadCloser
	once   sync.Once
	cancel context.CancelFunc
}

func (b *opBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}
