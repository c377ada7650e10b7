package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"sync"

	"github.com/adamwoolhether/bunny/client"
)

// DefaultChunkSize is the read size [Object.Chunks] uses for sizes <= 0.
const DefaultChunkSize = 64 << 10 // 64KB

// Object is a lazily streamed download. Nothing beyond the response headers
// is read until the caller reads. Reading to EOF returns the connection to
// the pool; closing early closes it. The caller must Close the Object.
type Object struct {
	Info ObjectInfo

	zone    *Zone
	resp    *client.Response
	session *Session

	mu     sync.Mutex
	err    error
	closed bool
}

// Download requests path and returns once the response headers arrived.
func (z *Zone) Download(ctx context.Context, path string, optFns ...Option) (*Object, error) {
	p, err := objectPath(path)
	if err != nil {
		return nil, err
	}

	opts, err := applyOptions(optFns)
	if err != nil {
		return nil, err
	}

	req, err := client.NewRequest(http.MethodGet, p, client.WithAccept("*/*"))
	if err != nil {
		return nil, err
	}

	resp, err := z.c.Dispatch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", p, err)
	}

	session := newSession(p, DirectionDownload, resp.ContentLength, opts, z.logger)
	session.attempts.Store(int32(resp.Attempts))
	session.start()

	return &Object{
		Info:    objectInfo(p, resp.Header, resp.ContentLength),
		zone:    z,
		resp:    resp,
		session: session,
	}, nil
}

// Session returns the transfer session of the download.
func (o *Object) Session() *Session {
	return o.session
}

// Read reads the next bytes of the object. Any failure is returned as a
// [client.TransferError]; a cancelled or expired context also matches
// [context.Canceled] or [client.ErrTimeout].
func (o *Object) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.err != nil {
		return 0, o.err
	}
	if o.closed {
		return 0, &client.TransferError{Op: "download", Path: o.Info.Path, Transferred: o.session.transferred.Load(), Err: errObjectClosed}
	}

	n, err := o.resp.Body.Read(p)
	o.session.add(int64(n))

	switch {
	case err == nil:
		if total := o.session.total; total >= 0 && o.session.transferred.Load() > total {
			return n, o.fail(StateFailed, fmt.Errorf("received more than the announced %d bytes", total))
		}
		return n, nil

	case errors.Is(err, io.EOF):
		if total := o.session.total; total >= 0 && o.session.transferred.Load() != total {
			return n, o.fail(StateFailed, fmt.Errorf("received %d of %d bytes: %w", o.session.transferred.Load(), total, io.ErrUnexpectedEOF))
		}
		o.session.finish(StateCompleted)
		o.err = io.EOF
		return n, io.EOF

	default:
		ctx := o.resp.Context()
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause := ctxErr
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				cause = fmt.Errorf("%w: %w", client.ErrTimeout, ctxErr)
			}
			return n, o.fail(StateAborted, errors.Join(cause, err))
		}
		return n, o.fail(StateFailed, err)
	}
}

// fail records a terminal read error. o.mu must be held.
func (o *Object) fail(state State, err error) error {
	o.session.finish(state)
	o.err = &client.TransferError{
		Op:          "download",
		Path:        o.Info.Path,
		Transferred: o.session.transferred.Load(),
		Err:         err,
	}
	return o.err
}

var errObjectClosed = errors.New("object already closed")

// Close releases the connection. Closing before EOF marks the session
// aborted and closes the connection instead of pooling it.
func (o *Object) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.session.finish(StateAborted)

	return o.resp.Close()
}

// Chunks returns a single-pass sequence of the object's content in reads
// of size bytes; only the last chunk may be shorter. The yielded slice is
// reused and only valid until the next iteration. The Object is closed when
// the sequence ends, including when the caller stops early.
func (o *Object) Chunks(size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}

	return client.OnePass(func(yield func([]byte, error) bool) {
		defer func() {
			if err := o.Close(); err != nil {
				o.zone.logger.Error("failed to close object", "path", o.Info.Path, "error", err)
			}
		}()

		o.session.chunkSize.Store(int64(size))
		buf := make([]byte, size)

		for {
			n, err := io.ReadFull(o, buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}

			switch {
			case err == nil:
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF) && o.session.State() == StateCompleted:
				return
			default:
				yield(nil, err)
				return
			}
		}
	})
}

// DownloadFile streams path into localPath. The content is written to a
// temporary file next to localPath, which is renamed into place only after
// the whole object arrived and, if requested, its checksum matched.
func (z *Zone) DownloadFile(ctx context.Context, path, localPath string, optFns ...Option) (Stats, error) {
	opts, err := applyOptions(optFns)
	if err != nil {
		return Stats{}, err
	}

	if opts.skipExisting {
		if _, err := os.Stat(localPath); err == nil {
			z.logger.Info("skipping existing file", "path", localPath)
			return Stats{Path: path, Direction: DirectionDownload, Total: -1, State: StateCompleted}, nil
		}
	}

	obj, err := z.Download(ctx, path, optFns...)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := obj.Close(); err != nil {
			z.logger.Error("failed to close object", "path", obj.Info.Path, "error", err)
		}
	}()

	expected := opts.checksum
	if expected == "" && opts.verify {
		expected = obj.Info.Checksum
		if expected == "" {
			z.logger.Warn("provider sent no checksum to verify", "path", obj.Info.Path)
		}
	}

	var verifier *checksumVerifier
	if expected != "" {
		verifier = newChecksumVerifier(expected)
	}

	if err := writeFile(localPath, obj, verifier, z.logger); err != nil {
		if !obj.session.finish(failureState(ctx, err)) {
			obj.session.reject()
		}

		var terr *client.TransferError
		if !errors.As(err, &terr) {
			err = &client.TransferError{Op: "download", Path: obj.Info.Path, Transferred: obj.session.transferred.Load(), Err: err}
		}
		return obj.session.Stats(), err
	}

	return obj.session.Stats(), nil
}
