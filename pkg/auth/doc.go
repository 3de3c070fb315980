// Package auth authenticates HTTP callers before they reach the MCP and
// REST endpoints.
//
// Authenticators vote Yes, No or Abstain. A Chain asks them in order and
// stops at the first non-abstaining vote; when all abstain the chain either
// admits an anonymous identity or rejects the request. Middleware runs the
// chain, applies per-subject rate limits and stores the identity and tenant
// in the request context.
package auth
