// Package transport provides the HTTP middleware stack shared by every
// pysandbox endpoint: panic recovery, request IDs and access logging.
//
// Middleware are plain func(http.Handler) http.Handler values and compose
// with Chain, so the auth and metrics middleware from other packages slot
// into the same chain.
package transport
