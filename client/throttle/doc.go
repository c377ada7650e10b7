// Package throttle limits the rate at which a bunny client sends HTTP
// attempts, using the token bucket from [golang.org/x/time/rate].
//
// The storage API answers bursts above the account limit with 429, which
// the client retries. Throttling on the client side avoids spending those
// retries:
//
//	rt, err := throttle.NewRoundTripper(throttle.Config{RPS: 20, Burst: 5},
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//
// A blocked attempt waits for a token until its context ends.
package throttle
