// Package storagetest provides an in-memory Edge Storage server for tests.
//
// The server stores objects by key, lists directories the way the provider
// does, verifies upload checksums and can be told to fail the next requests
// of a method. It answers errors with the provider's JSON error body.
package storagetest
