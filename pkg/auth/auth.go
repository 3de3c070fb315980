package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Decision is an authenticator's vote.
type Decision int

const (
	// Yes admits the request with the returned identity.
	Yes Decision = iota

	// No rejects the request. Later authenticators are not consulted.
	No

	// Abstain passes the request to the next authenticator.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// Result is the outcome of one authentication attempt. Identity is set for
// Yes, Err for No.
type Result struct {
	Decision Decision
	Identity *Identity
	Err      error
}

// Identity is an authenticated caller.
type Identity struct {
	Subject string

	// Tier selects the rate limit bucket. Empty means "default".
	Tier string

	// Tenant scopes execution history. Empty means unscoped.
	Tenant string

	Scopes []string
}

// Authenticator votes on a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators left to right.
type Chain struct {
	Authenticators []Authenticator

	// AllowAnonymous admits requests nobody voted on as "anonymous".
	AllowAnonymous bool
}

// Authenticate returns the first Yes or No vote, or the fallback decision
// when every authenticator abstains.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}

	if c.AllowAnonymous {
		return Result{Decision: Yes, Identity: &Identity{Subject: "anonymous", Tier: "default"}}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

// Deny is a convenience for authenticators rejecting credentials.
func Deny(err error) Result {
	return Result{Decision: No, Err: err}
}

// Allow is a convenience for authenticators accepting credentials.
func Allow(id *Identity) Result {
	return Result{Decision: Yes, Identity: id}
}

// BearerToken returns the token of an "Authorization: Bearer" header.
// ok is false when the header is missing or uses another scheme.
func BearerToken(r *http.Request) (token string, ok bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}
