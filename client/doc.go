// Package client turns typed operations into authenticated HTTP requests
// against the bunny.net APIs, retries transient failures and classifies
// every outcome into a typed error.
//
// # Building a Client
//
// A [Client] is bound to one set of [Credentials]:
//
//	creds, err := client.NewCredentials(client.CredentialsConfig{
//		Secret:  os.Getenv("BUNNY_API_KEY"),
//		BaseURL: "https://api.bunny.net",
//	})
//	c, err := client.Build(creds,
//		client.WithTimeout(10*time.Second),
//		client.WithThrottle(20, 5),
//	)
//
// # Making Requests
//
// A [Request] is built once with [NewRequest] and dispatched once:
//
//	req, err := client.NewRequest(http.MethodGet, "country")
//	err = c.Do(ctx, req, client.WithDestination(&countries))
//
// [Client.Dispatch] returns the raw streaming [Response] instead, for
// bodies that must not be held in memory. The operation deadline keeps
// running until the body is closed.
//
// # Retries
//
// Connection failures and 429/502/503/504 answers are retried under a
// [RetryPolicy] with exponential backoff. A streamed request body is sent
// again only if it implements [io.Seeker] or nothing was read from it yet.
//
// # Errors
//
// Every error matches one of the sentinels with [errors.Is], such as
// [ErrNotFound] or [ErrTimeout]. Details are available with [errors.As] on
// [StatusError], [DecodeError] and [TransferError].
package client
