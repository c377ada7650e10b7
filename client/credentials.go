package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAuthHeader is the header bunny.net reads both account API keys and
// storage zone passwords from.
const DefaultAuthHeader = "AccessKey"

const redacted = "[REDACTED]"

// CredentialsConfig is the caller-supplied input to [NewCredentials].
type CredentialsConfig struct {
	// Secret is the account API key or storage zone password.
	Secret string `json:"secret" validate:"required"`
	// BaseURL is the endpoint every request path is resolved against.
	BaseURL string `json:"base_url" validate:"required,http_url"`
	// Header overrides [DefaultAuthHeader].
	Header string `json:"header"`
}

// Credentials holds a secret and the endpoint it authenticates against.
// It is immutable once built and is shared by every request a [Client]
// makes, so it needs no locking. The secret is never returned, printed
// or logged.
type Credentials struct {
	secret string
	header string
	base   url.URL
}

// NewCredentials validates cfg and returns immutable Credentials.
// Errors match [ErrConfig].
func NewCredentials(cfg CredentialsConfig) (*Credentials, error) {
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if strings.ContainsAny(cfg.Secret, "\r\n") {
		return nil, fmt.Errorf("%w: secret contains invalid characters", ErrConfig)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%w: parsing base url: %w", ErrConfig, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q has no host", ErrConfig, cfg.BaseURL)
	}
	if base.RawQuery != "" || base.Fragment != "" {
		return nil, fmt.Errorf("%w: base url must not carry a query or fragment", ErrConfig)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
		if base.RawPath != "" {
			base.RawPath += "/"
		}
	}

	header := cfg.Header
	if header == "" {
		header = DefaultAuthHeader
	}

	return &Credentials{
		secret: cfg.Secret,
		header: header,
		base:   *base,
	}, nil
}

// Apply sets the authentication header on h.
func (c *Credentials) Apply(h http.Header) {
	h.Set(c.header, c.secret)
}

// BaseURL returns a copy of the endpoint requests are resolved against.
func (c *Credentials) BaseURL() *url.URL {
	u := c.base
	return &u
}

// String implements fmt.Stringer without revealing the secret.
func (c *Credentials) String() string {
	return fmt.Sprintf("Credentials{header: %s, secret: %s, base: %s}", c.header, redacted, c.base.String())
}

// GoString implements fmt.GoStringer so %#v stays redacted too.
func (c *Credentials) GoString() string {
	return c.String()
}

// LogValue implements slog.LogValuer.
func (c *Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("header", c.header),
		slog.String("secret", redacted),
		slog.String("base", c.base.String()),
	)
}

// scrub removes any occurrence of the secret from s, in case the provider
// echoes request headers back in an error body.
func (c *Credentials) scrub(s string) string {
	if c == nil || c.secret == "" {
		return s
	}
	return strings.ReplaceAll(s, c.secret, redacted)
}

// resolve joins path onto the base URL, escaping each segment. A trailing
// slash is preserved because the storage API uses it to address directories.
func (c *Credentials) resolve(path string, query url.Values) *url.URL {
	u := c.base

	path = strings.TrimLeft(path, "/")
	if path != "" {
		segments := strings.Split(path, "/")
		escaped := make([]string, len(segments))
		for i, s := range segments {
			escaped[i] = url.PathEscape(s)
		}

		u.RawPath = c.base.EscapedPath() + strings.Join(escaped, "/")
		u.Path = c.base.Path + path
	}

	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	return &u
}
