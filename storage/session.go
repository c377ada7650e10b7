package storage

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of a transfer.
type State int32

const (
	StatePending State = iota
	StateActive
	StateCompleted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Direction tells uploads and downloads apart.
type Direction int

const (
	DirectionUpload Direction = iota + 1
	DirectionDownload
)

func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "upload"
	case DirectionDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time copy of a [Session].
type Stats struct {
	Path      string
	Direction Direction
	// Total is the expected size in bytes, or -1 when unknown.
	Total int64
	// ChunkSize is the read size used by [Object.Chunks], 0 otherwise.
	ChunkSize int
	// Transferred counts bytes moved by the current attempt.
	Transferred int64
	Attempts    int
	State       State
}

// Session tracks the progress of one transfer of one object. It is never
// reused. All methods are safe for concurrent use.
type Session struct {
	path      string
	direction Direction
	total     int64

	chunkSize   atomic.Int64
	transferred atomic.Int64
	attempts    atomic.Int32
	state       atomic.Int32

	notify func(Stats)
	log    *progressLogger
}

func newSession(path string, dir Direction, total int64, opts options, logger *slog.Logger) *Session {
	s := &Session{
		path:      path,
		direction: dir,
		total:     total,
		notify:    opts.progressFn,
	}
	if opts.progress {
		s.log = &progressLogger{logger: logger.With("path", path, "direction", dir.String()), total: total, start: time.Now()}
	}
	s.state.Store(int32(StatePending))

	return s
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	return Stats{
		Path:        s.path,
		Direction:   s.direction,
		Total:       s.total,
		ChunkSize:   int(s.chunkSize.Load()),
		Transferred: s.transferred.Load(),
		Attempts:    int(s.attempts.Load()),
		State:       State(s.state.Load()),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) start() {
	s.state.CompareAndSwap(int32(StatePending), int32(StateActive))
}

// setTransferred records the byte count of the current attempt. A retried
// upload starts again from zero.
func (s *Session) setTransferred(n int64) {
	s.transferred.Store(n)
	s.report(n)
}

func (s *Session) add(n int64) {
	if n <= 0 {
		return
	}
	s.report(s.transferred.Add(n))
}

func (s *Session) report(n int64) {
	if s.log != nil {
		s.log.update(n)
	}
	if s.notify != nil {
		s.notify(s.Stats())
	}
}

// finish moves the session to a terminal state. The first terminal state
// wins.
func (s *Session) finish(state State) bool {
	for {
		cur := State(s.state.Load())
		if cur.Terminal() {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(state)) {
			if s.log != nil {
				s.log.done(state, s.transferred.Load())
			}
			if s.notify != nil {
				s.notify(s.Stats())
			}
			return true
		}
	}
}

// reject marks a transfer whose bytes all arrived but were not accepted,
// such as a download failing checksum verification.
func (s *Session) reject() {
	if s.state.CompareAndSwap(int32(StateCompleted), int32(StateFailed)) && s.notify != nil {
		s.notify(s.Stats())
	}
}

// progressLogger logs transfer progress at most once per second.
type progressLogger struct {
	mu      sync.Mutex
	logger  *slog.Logger
	total   int64
	start   time.Time
	lastLog time.Time
}

func (pl *progressLogger) update(transferred int64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if time.Since(pl.lastLog) < time.Second {
		return
	}
	pl.lastLog = time.Now()
	pl.log("transferring", transferred)
}

func (pl *progressLogger) done(state State, transferred int64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pl.log("transfer "+state.String(), transferred)
}

func (pl *progressLogger) log(msg string, transferred int64) {
	elapsed := time.Since(pl.start)
	attrs := []any{
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", transferred,
		"total", pl.total,
	}
	if pl.total > 0 {
		attrs = append(attrs, "progress", fmt.Sprintf("%.1f%%", float64(transferred)/float64(pl.total)*100))
	}
	if secs := elapsed.Seconds(); secs > 0 {
		attrs = append(attrs, "mbps", fmt.Sprintf("%.2f", float64(transferred)/secs/(1024*1024)))
	}
	pl.logger.Info(msg, attrs...)
}
