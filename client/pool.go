package client

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// PoolStats reports how response bodies handed out by a [Client] have been
// released. The underlying [http.Transport] returns a connection to its idle
// pool only when the body was read to EOF before Close; a body closed early
// forces the connection shut.
type PoolStats struct {
	// InFlight counts bodies checked out and not yet closed.
	InFlight int64
	// Reused counts bodies read to EOF, whose connection went back to the pool.
	Reused int64
	// Discarded counts bodies closed early, whose connection was closed.
	Discarded int64
}

// poolTracker is an http.RoundTripper, recording checkout and return of
// every response body so leaks are observable.
type poolTracker struct {
	next      http.RoundTripper
	inFlight  atomic.Int64
	reused    atomic.Int64
	discarded atomic.Int64
}

func (p *poolTracker) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := p.next.RoundTrip(r)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}

	p.inFlight.Add(1)
	resp.Body = &trackedBody{rc: resp.Body, pool: p}

	return resp, nil
}

func (p *poolTracker) stats() PoolStats {
	return PoolStats{
		InFlight:  p.inFlight.Load(),
		Reused:    p.reused.Load(),
		Discarded: p.discarded.Load(),
	}
}

type trackedBody struct {
	rc   io.ReadCloser
	pool *poolTracker
	eof  atomic.Bool
	once sync.Once
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if errors.Is(err, io.EOF) {
		b.eof.Store(true)
	}
	return n, err
}

func (b *trackedBody) Close() error {
	err := b.rc.Close()
	b.once.Do(func() {
		if b.eof.Load() {
			b.pool.reused.Add(1)
		} else {
			b.pool.discarded.Add(1)
		}
		b.pool.inFlight.Add(-1)
	})
	return err
}
