package control

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/adamwoolhether/bunny/client"
)

// DefaultBaseURL is the control-plane API endpoint.
const DefaultBaseURL = "https://api.bunny.net"

// API keys are listed DefaultPerPage at a time unless told otherwise.
const (
	DefaultPerPage = 100
	MaxPerPage     = 1000
)

// Client calls the account-level control-plane API. It is safe for
// concurrent use.
type Client struct {
	c      *client.Client
	logger *slog.Logger
}

// New returns a Client authenticated with the account API key.
func New(apiKey string, opts ...client.Option) (*Client, error) {
	return NewWithEndpoint(DefaultBaseURL, apiKey, opts...)
}

// NewWithEndpoint returns a Client talking to endpoint instead of
// [DefaultBaseURL], such as a test server.
func NewWithEndpoint(endpoint, apiKey string, opts ...client.Option) (*Client, error) {
	creds, err := client.NewCredentials(client.CredentialsConfig{
		Secret:  apiKey,
		BaseURL: endpoint,
	})
	if err != nil {
		return nil, err
	}

	c, err := client.Build(creds, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{c: c, logger: c.Logger()}, nil
}

// Client returns the underlying client.
func (cl *Client) Client() *client.Client {
	return cl.c
}

// Countries returns every country with its tax rate and points of presence.
func (cl *Client) Countries(ctx context.Context) ([]Country, error) {
	var countries []Country
	if err := get(ctx, cl, "country", &countries); err != nil {
		return nil, fmt.Errorf("listing countries: %w", err)
	}

	return countries, nil
}

// Regions returns every CDN pricing region.
func (cl *Client) Regions(ctx context.Context) ([]Region, error) {
	var regions []Region
	if err := get(ctx, cl, "region", &regions); err != nil {
		return nil, fmt.Errorf("listing regions: %w", err)
	}

	return regions, nil
}

// APIKeysPage fetches a single page of API keys. Pages are counted from 1.
func (cl *Client) APIKeysPage(ctx context.Context, page, perPage int) (client.Page[APIKey], error) {
	if page < 1 {
		return client.Page[APIKey]{}, fmt.Errorf("%w: page must be at least 1, got %d", client.ErrConfig, page)
	}
	if perPage < 1 || perPage > MaxPerPage {
		return client.Page[APIKey]{}, fmt.Errorf("%w: per page must be within [1, %d], got %d", client.ErrConfig, MaxPerPage, perPage)
	}

	var p client.Page[APIKey]
	err := get(ctx, cl, "apikey", &p,
		client.WithQuery("page", strconv.Itoa(page)),
		client.WithQuery("perPage", strconv.Itoa(perPage)),
	)
	if err != nil {
		return client.Page[APIKey]{}, fmt.Errorf("listing api keys page %d: %w", page, err)
	}

	return p, nil
}

// APIKeys returns a lazy, single-pass sequence over every API key of the
// account, fetching perPage keys per request. perPage <= 0 selects
// [DefaultPerPage].
func (cl *Client) APIKeys(ctx context.Context, perPage int) iter.Seq2[APIKey, error] {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	return client.Paginate(ctx, func(ctx context.Context, page int) (client.Page[APIKey], error) {
		return cl.APIKeysPage(ctx, page, perPage)
	})
}

// PurgeURL removes a URL from the CDN cache. The URL may contain a
// trailing wildcard.
func (cl *Client) PurgeURL(ctx context.Context, pr PurgeRequest) error {
	if err := client.Validate(pr); err != nil {
		return fmt.Errorf("%w: %w", client.ErrConfig, err)
	}

	req, err := client.NewRequest(http.MethodPost, "purge",
		client.WithQuery("url", pr.URL),
		client.WithQuery("async", strconv.FormatBool(pr.Async)),
		client.WithAccept("application/json"),
	)
	if err != nil {
		return err
	}

	if err := cl.c.Do(ctx, req); err != nil {
		return fmt.Errorf("purging %s: %w", pr.URL, err)
	}

	cl.logger.Debug("purged url", "url", pr.URL, "async", pr.Async)

	return nil
}

// get decodes the JSON answer to a GET of path into dest.
func get[T any](ctx context.Context, cl *Client, path string, dest *T, opts ...client.RequestOption) error {
	opts = append(opts, client.WithAccept("application/json"))

	req, err := client.NewRequest(http.MethodGet, path, opts...)
	if err != nil {
		return err
	}

	return cl.c.Do(ctx, req, client.WithDestination(dest))
}
