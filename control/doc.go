// Package control wraps the account-level bunny.net API: countries,
// pricing regions, API keys and cache purging.
//
//	cl, err := control.New(os.Getenv("BUNNY_API_KEY"))
//	countries, err := cl.Countries(ctx)
//
//	for key, err := range cl.APIKeys(ctx, 0) {
//		...
//	}
//
// Errors follow the taxonomy of package client and match its sentinels
// with [errors.Is].
package control
