package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adamwoolhether/bunny/client"
)

var (
	// ErrInvalidPath is returned before any request is made when an object
	// or directory path cannot be addressed.
	ErrInvalidPath = errors.New("invalid storage path")
	// ErrChecksumMismatch is wrapped in a [client.TransferError] when a
	// downloaded file does not hash to the expected sum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// checksumHeader carries the uppercase hex SHA256 of an object.
const checksumHeader = "Checksum"

// Zone is one Edge Storage zone. It is safe for concurrent use.
type Zone struct {
	c      *client.Client
	name   string
	region Region
	logger *slog.Logger
}

// New returns a Zone reached through region and authenticated with the
// zone's password. opts configure the underlying [client.Client].
func New(password string, region Region, zone string, opts ...client.Option) (*Zone, error) {
	if region.IsZero() {
		return nil, fmt.Errorf("%w: region must be set", client.ErrConfig)
	}
	zone = strings.Trim(zone, "/")
	if zone == "" || strings.Contains(zone, "/") {
		return nil, fmt.Errorf("%w: invalid storage zone name %q", client.ErrConfig, zone)
	}

	creds, err := client.NewCredentials(client.CredentialsConfig{
		Secret:  password,
		BaseURL: region.Endpoint() + "/" + zone + "/",
	})
	if err != nil {
		return nil, err
	}

	c, err := client.Build(creds, opts...)
	if err != nil {
		return nil, err
	}

	return &Zone{
		c:      c,
		name:   zone,
		region: region,
		logger: c.Logger(),
	}, nil
}

// Name returns the storage zone name.
func (z *Zone) Name() string {
	return z.name
}

// Region returns the region the zone is reached through.
func (z *Zone) Region() Region {
	return z.region
}

// Client returns the underlying client, e.g. to read its [client.PoolStats].
func (z *Zone) Client() *client.Client {
	return z.c
}

// ObjectInfo describes a stored object as reported by response headers.
type ObjectInfo struct {
	Path string
	// Size is -1 when the provider did not send a Content-Length.
	Size         int64
	ContentType  string
	LastModified time.Time
	// Checksum is the uppercase hex SHA256, when the provider sent one.
	Checksum string
}

func objectInfo(path string, h http.Header, contentLength int64) ObjectInfo {
	info := ObjectInfo{
		Path:        path,
		Size:        contentLength,
		ContentType: h.Get("Content-Type"),
		Checksum:    strings.ToUpper(h.Get(checksumHeader)),
	}
	if info.Size < 0 {
		if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
			info.Size = n
		}
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}

	return info
}

// Stat returns an object's metadata without transferring its content.
func (z *Zone) Stat(ctx context.Context, path string) (ObjectInfo, error) {
	p, err := objectPath(path)
	if err != nil {
		return ObjectInfo{}, err
	}

	req, err := client.NewRequest(http.MethodHead, p)
	if err != nil {
		return ObjectInfo{}, err
	}

	resp, err := z.c.Dispatch(ctx, req)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if err := resp.Discard(); err != nil {
		z.logger.Error("failed to release stat response", "error", err)
	}

	return objectInfo(p, resp.Header, resp.ContentLength), nil
}

// Delete removes an object. A path ending in "/" removes a directory and
// everything below it. Deleting a missing object returns an error matching
// [client.ErrNotFound].
func (z *Zone) Delete(ctx context.Context, path string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	if p == "" {
		return fmt.Errorf("%w: refusing to delete the zone root", ErrInvalidPath)
	}

	req, err := client.NewRequest(http.MethodDelete, p)
	if err != nil {
		return err
	}

	if err := z.c.Do(ctx, req); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}

	z.logger.Debug("deleted object", "zone", z.name, "path", p)

	return nil
}

// objectPath normalises the path of a single object.
func objectPath(path string) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	if p == "" || strings.HasSuffix(p, "/") {
		return "", fmt.Errorf("%w: %q does not name an object", ErrInvalidPath, path)
	}
	return p, nil
}

// dirPath normalises a directory path to end in "/". The zone root is "".
func dirPath(path string) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p, nil
}

// cleanPath strips leading slashes and rejects segments the provider would
// resolve outside the zone.
func cleanPath(path string) (string, error) {
	p := strings.TrimLeft(path, "/")
	if strings.ContainsAny(p, "\x00\r\n") {
		return "", fmt.Errorf("%w: %q contains control characters", ErrInvalidPath, path)
	}

	segments := strings.Split(strings.TrimSuffix(p, "/"), "/")
	for _, s := range segments {
		if s == "." || s == ".." {
			return "", fmt.Errorf("%w: %q contains relative segments", ErrInvalidPath, path)
		}
		if s == "" && p != "" {
			return "", fmt.Errorf("%w: %q contains empty segments", ErrInvalidPath, path)
		}
	}

	return p, nil
}
