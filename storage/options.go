package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Option configures a single transfer. Options that only make sense in one
// direction are ignored by the other.
type Option func(*options) error

type options struct {
	checksum     string
	verify       bool
	contentType  string
	progress     bool
	progressFn   func(Stats)
	skipExisting bool
	queue        *Queue
}

// WithChecksum sets the expected SHA256 of the object as hex. An upload
// sends it in the Checksum header, which makes the provider reject a
// corrupted body. A file download verifies the written bytes against it.
func WithChecksum(sha256Hex string) Option {
	return func(opts *options) error {
		b, err := hex.DecodeString(sha256Hex)
		if err != nil || len(b) != sha256.Size {
			return fmt.Errorf("checksum %q is not a hex encoded sha256 sum", sha256Hex)
		}
		opts.checksum = strings.ToUpper(sha256Hex)
		return nil
	}
}

// WithVerifyChecksum makes a file download verify the written bytes
// against the Checksum header the provider sent, if any.
func WithVerifyChecksum() Option {
	return func(opts *options) error {
		opts.verify = true
		return nil
	}
}

// WithContentType overrides the upload's default application/octet-stream.
func WithContentType(contentType string) Option {
	return func(opts *options) error {
		if contentType == "" {
			return errors.New("content type must not be empty")
		}
		opts.contentType = contentType
		return nil
	}
}

// WithProgress logs transfer progress at most once per second.
func WithProgress() Option {
	return func(opts *options) error {
		opts.progress = true
		return nil
	}
}

// WithProgressFunc calls fn with a snapshot whenever the transfer makes
// progress or ends. fn may be called from the transport's goroutine and
// must not block.
func WithProgressFunc(fn func(Stats)) Option {
	return func(opts *options) error {
		if fn == nil {
			return errors.New("progress func must not be nil")
		}
		opts.progressFn = fn
		return nil
	}
}

// WithSkipExisting makes a file download return immediately when the local
// destination already exists.
func WithSkipExisting() Option {
	return func(opts *options) error {
		opts.skipExisting = true
		return nil
	}
}

// WithBatch runs an async transfer in a new [Queue] allowing n concurrent
// transfers. Further transfers join it with [WithQueue] and [Result.Queue].
func WithBatch(n int) Option {
	return func(opts *options) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		if opts.queue != nil {
			return errors.New("WithBatch and WithQueue are mutually exclusive")
		}
		opts.queue = NewQueue(n)
		return nil
	}
}

// WithQueue runs an async transfer in q.
func WithQueue(q *Queue) Option {
	return func(opts *options) error {
		if q == nil {
			return errors.New("queue must not be nil")
		}
		if opts.queue != nil {
			return errors.New("WithBatch and WithQueue are mutually exclusive")
		}
		opts.queue = q
		return nil
	}
}

func applyOptions(optFns []Option) (options, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return options{}, fmt.Errorf("applying option: %w", err)
		}
	}
	return opts, nil
}

// checksumVerifier hashes what is written through it and compares the sum
// with the expected hex value.
type checksumVerifier struct {
	hash     hash.Hash
	expected string
}

func newChecksumVerifier(expected string) *checksumVerifier {
	return &checksumVerifier{hash: sha256.New(), expected: expected}
}

func (v *checksumVerifier) Write(p []byte) (int, error) {
	return v.hash.Write(p)
}

func (v *checksumVerifier) verify() error {
	if v == nil {
		return nil
	}

	actual := hex.EncodeToString(v.hash.Sum(nil))
	if !strings.EqualFold(actual, v.expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, strings.ToLower(v.expected), actual)
	}

	return nil
}
