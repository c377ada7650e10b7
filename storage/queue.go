package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueShutdown is the error of transfers that had not started when
// their [Queue] was shut down.
var ErrQueueShutdown = errors.New("transfer queue shut down")

// transferFunc performs one transfer and returns its final stats.
type transferFunc func(ctx context.Context) (Stats, error)

// Queue runs async transfers with bounded concurrency.
type Queue struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	sem      chan struct{}
	shutdown atomic.Bool
	errs     []error
}

// NewQueue returns a Queue running at most maxConcurrent transfers at once.
// If maxConcurrent <= 0, concurrency is unlimited.
func NewQueue(maxConcurrent int) *Queue {
	q := &Queue{}
	if maxConcurrent > 0 {
		q.sem = make(chan struct{}, maxConcurrent)
	}
	return q
}

// Wait blocks until every transfer in the queue finished and returns their
// errors joined.
func (q *Queue) Wait() error {
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()

	return errors.Join(q.errs...)
}

// Shutdown stops transfers that have not started yet. Running transfers
// are left to finish; cancel them through their [Result].
func (q *Queue) Shutdown() {
	q.shutdown.Store(true)
}

// start launches fn once a slot is free and returns its Result.
func (q *Queue) start(ctx context.Context, path string, dir Direction, fn transferFunc) *Result {
	ctx, cancel := context.WithCancel(ctx)
	r := &Result{
		done:   make(chan struct{}),
		cancel: cancel,
		queue:  q,
		stats:  Stats{Path: path, Direction: dir, Total: -1, State: StatePending},
	}

	q.wg.Add(1)
	go func() {
		defer func() {
			cancel()
			close(r.done)
			q.wg.Done()
		}()

		if q.sem != nil {
			select {
			case q.sem <- struct{}{}:
				defer func() { <-q.sem }()
			case <-ctx.Done():
				r.finish(Stats{Path: path, Direction: dir, Total: -1, State: StateAborted}, ctx.Err())
				return
			}
		}

		if q.shutdown.Load() {
			r.finish(Stats{Path: path, Direction: dir, Total: -1, State: StateAborted}, ErrQueueShutdown)
			return
		}

		r.finish(fn(ctx))
	}()

	return r
}

func (q *Queue) recordErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errs = append(q.errs, err)
}

// Result is an in-flight or completed async transfer.
type Result struct {
	done   chan struct{}
	cancel context.CancelFunc
	queue  *Queue

	stats Stats
	err   error
}

func (r *Result) finish(stats Stats, err error) {
	r.stats = stats
	r.err = err
	if err != nil {
		r.queue.recordErr(err)
	}
}

// Done returns a channel closed once the transfer finished.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err blocks until the transfer finished and returns its error.
func (r *Result) Err() error {
	<-r.done
	return r.err
}

// Stats blocks until the transfer finished and returns its final stats.
func (r *Result) Stats() Stats {
	<-r.done
	return r.stats
}

// Wait blocks until every transfer of the queue finished.
func (r *Result) Wait() error {
	return r.queue.Wait()
}

// Cancel cancels the transfer.
func (r *Result) Cancel() {
	r.cancel()
}

// Queue returns the queue the transfer runs in, for use with [WithQueue].
func (r *Result) Queue() *Queue {
	return r.queue
}

// UploadAsync uploads localPath to remotePath in the background. Without
// [WithBatch] or [WithQueue] the transfer runs in a queue of its own.
func (z *Zone) UploadAsync(ctx context.Context, localPath, remotePath string, optFns ...Option) (*Result, error) {
	q, err := z.asyncQueue(localPath, remotePath, optFns)
	if err != nil {
		return nil, err
	}

	return q.start(ctx, remotePath, DirectionUpload, func(ctx context.Context) (Stats, error) {
		return z.UploadFile(ctx, localPath, remotePath, optFns...)
	}), nil
}

// DownloadAsync downloads remotePath into localPath in the background.
// Without [WithBatch] or [WithQueue] the transfer runs in a queue of its
// own.
func (z *Zone) DownloadAsync(ctx context.Context, remotePath, localPath string, optFns ...Option) (*Result, error) {
	q, err := z.asyncQueue(localPath, remotePath, optFns)
	if err != nil {
		return nil, err
	}

	return q.start(ctx, remotePath, DirectionDownload, func(ctx context.Context) (Stats, error) {
		return z.DownloadFile(ctx, remotePath, localPath, optFns...)
	}), nil
}

func (z *Zone) asyncQueue(localPath, remotePath string, optFns []Option) (*Queue, error) {
	if localPath == "" {
		return nil, errors.New("local path must not be empty")
	}
	if _, err := objectPath(remotePath); err != nil {
		return nil, err
	}

	opts, err := applyOptions(optFns)
	if err != nil {
		return nil, err
	}
	if opts.queue == nil {
		return NewQueue(0), nil
	}

	return opts.queue, nil
}
