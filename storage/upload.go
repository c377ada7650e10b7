package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/adamwoolhether/bunny/client"
)

// Upload streams src to path. size is the exact number of bytes src will
// produce; -1 sends the body with chunked transfer encoding. src is never
// closed.
//
// Sources implementing [io.Seeker] are rewound and sent again when a
// transient failure is retried. Other sources are only retried if nothing
// had been read from them; otherwise the error wraps
// [client.ErrBodyNotReplayable]. The returned Stats are valid on error too.
func (z *Zone) Upload(ctx context.Context, path string, src io.Reader, size int64, optFns ...Option) (Stats, error) {
	p, err := objectPath(path)
	if err != nil {
		return Stats{}, err
	}
	if src == nil {
		return Stats{}, errors.New("upload source must not be nil")
	}

	opts, err := applyOptions(optFns)
	if err != nil {
		return Stats{}, err
	}

	session := newSession(p, DirectionUpload, size, opts, z.logger)
	err = z.upload(ctx, session, src, size, opts)

	return session.Stats(), err
}

func (z *Zone) upload(ctx context.Context, session *Session, src io.Reader, size int64, opts options) error {
	reqOpts := []client.RequestOption{
		client.WithBody(src, size),
		client.WithBodyProgress(session.setTransferred),
	}
	if opts.contentType != "" {
		reqOpts = append(reqOpts, client.WithContentType(opts.contentType))
	}
	if opts.checksum != "" {
		reqOpts = append(reqOpts, client.WithHeader(checksumHeader, opts.checksum))
	}

	req, err := client.NewRequest(http.MethodPut, session.path, reqOpts...)
	if err != nil {
		return err
	}

	session.start()
	resp, err := z.c.Dispatch(ctx, req)
	session.attempts.Store(int32(req.Attempts()))
	if err != nil {
		session.finish(failureState(ctx, err))
		return fmt.Errorf("upload %s: %w", session.path, err)
	}

	if err := resp.Discard(); err != nil {
		z.logger.Error("failed to release upload response", "error", err)
	}

	session.finish(StateCompleted)
	z.logger.Debug("uploaded object", "zone", z.name, "path", session.path, "bytes", session.transferred.Load(), "attempts", req.Attempts())

	return nil
}

// UploadFile uploads the file at localPath to remotePath. The file's SHA256
// is computed first and sent along unless [WithChecksum] supplies one.
func (z *Zone) UploadFile(ctx context.Context, localPath, remotePath string, optFns ...Option) (Stats, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Stats{}, fmt.Errorf("opening upload source: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			z.logger.Error("failed to close upload source", "path", localPath, "error", err)
		}
	}()

	fi, err := f.Stat()
	if err != nil {
		return Stats{}, fmt.Errorf("stat upload source: %w", err)
	}
	if fi.IsDir() {
		return Stats{}, fmt.Errorf("upload source %s is a directory", localPath)
	}

	opts, err := applyOptions(optFns)
	if err != nil {
		return Stats{}, err
	}
	if opts.checksum == "" {
		sum, err := fileChecksum(f)
		if err != nil {
			return Stats{}, err
		}
		optFns = append(optFns, WithChecksum(sum))
	}

	return z.Upload(ctx, remotePath, f, fi.Size(), optFns...)
}

// fileChecksum hashes f from its current offset and rewinds it.
func fileChecksum(f *os.File) (string, error) {
	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("seeking upload source: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing upload source: %w", err)
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding upload source: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// failureState tells a caller-initiated stop apart from a failed transfer.
func failureState(ctx context.Context, err error) State {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return StateAborted
	}
	return StateFailed
}
