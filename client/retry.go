package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

// RetryPolicy bounds how transient failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts" validate:"min=1,max=10"`
	// BaseDelay is the delay before the first retry. Each following retry
	// doubles it.
	BaseDelay time.Duration `json:"base_delay"`
	// MaxDelay caps any single delay.
	MaxDelay time.Duration `json:"max_delay"`
	// NoJitter disables the random spread added to each delay.
	NoJitter bool `json:"no_jitter"`
}

// DefaultRetryPolicy is applied unless [WithRetryPolicy] overrides it.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

func (p RetryPolicy) validate() error {
	if err := Validate(p); err != nil {
		return err
	}
	if p.BaseDelay <= 0 {
		return errors.New("base delay must be positive")
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay[%s] must not be below base delay[%s]", p.MaxDelay, p.BaseDelay)
	}

	return nil
}

// Delay returns the wait before retry number n, counted from zero. Without
// the cap, the result lies in [base·2^n, 1.5·base·2^n), so successive delays
// strictly increase until they reach MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	if p.NoJitter {
		return p.delay(n, nil)
	}
	return p.delay(n, rand.Int64N)
}

func (p RetryPolicy) delay(n int, jitter func(int64) int64) time.Duration {
	if n < 0 {
		n = 0
	}
	if n >= 62 {
		return p.MaxDelay
	}

	d := p.BaseDelay << n
	if d <= 0 || d >= p.MaxDelay {
		return p.MaxDelay
	}

	if half := int64(d / 2); half > 0 && jitter != nil {
		d += time.Duration(jitter(half))
	}

	return min(d, p.MaxDelay)
}

// retryableStatus is the set of statuses retried by the dispatcher.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// transient reports whether a transport error is worth another attempt.
// Context cancellation and deadlines never are.
func transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	var oerr *net.OpError
	return errors.As(err, &oerr)
}

// retryAfter parses the Retry-After header in either of its two forms.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}

	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
