package storage

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/adamwoolhether/bunny/client"
)

// Region is an Edge Storage endpoint. A storage zone is only reachable
// through the endpoint of its primary region.
type Region struct {
	name     string
	endpoint string
}

// Primary storage regions.
var (
	Frankfurt    = Region{name: "de", endpoint: "https://storage.bunnycdn.com"}
	London       = Region{name: "uk", endpoint: "https://uk.storage.bunnycdn.com"}
	NewYork      = Region{name: "ny", endpoint: "https://ny.storage.bunnycdn.com"}
	LosAngeles   = Region{name: "la", endpoint: "https://la.storage.bunnycdn.com"}
	Singapore    = Region{name: "sg", endpoint: "https://sg.storage.bunnycdn.com"}
	Stockholm    = Region{name: "se", endpoint: "https://se.storage.bunnycdn.com"}
	SaoPaulo     = Region{name: "br", endpoint: "https://br.storage.bunnycdn.com"}
	Johannesburg = Region{name: "jh", endpoint: "https://jh.storage.bunnycdn.com"}
	Sydney       = Region{name: "syd", endpoint: "https://syd.storage.bunnycdn.com"}
)

var regions = []Region{Frankfurt, London, NewYork, LosAngeles, Singapore, Stockholm, SaoPaulo, Johannesburg, Sydney}

// Regions returns every known primary region.
func Regions() []Region {
	return slices.Clone(regions)
}

// CustomRegion addresses an endpoint this package does not know about yet,
// or a test server. rawURL must be an absolute http(s) URL without a query.
func CustomRegion(rawURL string) (Region, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Region{}, fmt.Errorf("%w: parsing region endpoint: %w", client.ErrConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Region{}, fmt.Errorf("%w: region endpoint %q must be an absolute http(s) URL", client.ErrConfig, rawURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return Region{}, fmt.Errorf("%w: region endpoint must not carry a query or fragment", client.ErrConfig)
	}

	return Region{name: "custom", endpoint: strings.TrimRight(u.String(), "/")}, nil
}

// ParseRegion resolves a region code such as "ny" or "syd". "de" and an
// empty string select Frankfurt. Anything with a scheme is treated as a
// custom endpoint.
func ParseRegion(s string) (Region, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		return CustomRegion(s)
	}

	code := strings.ToLower(s)
	if code == "" || code == "falkenstein" {
		return Frankfurt, nil
	}

	for _, r := range regions {
		if r.name == code {
			return r, nil
		}
	}

	return Region{}, fmt.Errorf("%w: unknown storage region %q", client.ErrConfig, s)
}

// String returns the region code.
func (r Region) String() string {
	return r.name
}

// Endpoint returns the region's base URL.
func (r Region) Endpoint() string {
	return r.endpoint
}

// IsZero reports whether r is the zero Region.
func (r Region) IsZero() bool {
	return r.endpoint == ""
}
