// Package bunny exposes constructors for the bunny.net clients.
//
// Storage zones are reached with [NewStorage] and the account API with
// [NewControl]. Both accept [client.Option] values to tune the underlying
// transport, retry policy, logging and tracing.
package bunny

import (
	"github.com/adamwoolhether/bunny/client"
	"github.com/adamwoolhether/bunny/control"
	"github.com/adamwoolhether/bunny/storage"
)

// NewStorage returns the storage zone named zone in region, authenticated
// with the zone's password.
func NewStorage(password string, region storage.Region, zone string, opts ...client.Option) (*storage.Zone, error) {
	return storage.New(password, region, zone, opts...)
}

// NewControl returns a client for the account API, authenticated with the
// account's API key.
func NewControl(apiKey string, opts ...client.Option) (*control.Client, error) {
	return control.New(apiKey, opts...)
}
