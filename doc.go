// Package jwtvalidation validates OAuth 2.0 / OpenID Connect access, ID,
// and refresh tokens against a set of trusted issuer configurations.
//
// A TokenValidator is constructed once with a list of IssuerConfig values and
// reused concurrently from arbitrary goroutines. It decodes a compact
// JWT, resolves the issuing authority's signing keys (fetched lazily over
// HTTP and kept fresh in the background), verifies the signature and
// standard claims, and returns a typed token content object or a
// classified ValidationError.
//
// The package does not issue tokens, perform OAuth2 authorization-code
// exchange, extract bearer tokens from HTTP requests, or export metrics;
// callers wire those concerns around the TokenValidator using the interfaces
// in adapters.go.
package jwtvalidation
