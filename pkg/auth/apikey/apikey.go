// Package apikey authenticates static bearer keys. Keys are kept only as
// SHA-256 digests and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/rhuss/pysandbox/pkg/auth"
)

var errUnknownKey = errors.New("unknown API key")

// Key is one configured API key and the identity it grants.
type Key struct {
	Key     string `json:"key" yaml:"key"`
	Subject string `json:"subject" yaml:"subject"`
	Tier    string `json:"tier,omitempty" yaml:"tier"`
	Tenant  string `json:"tenant,omitempty" yaml:"tenant"`
}

type entry struct {
	digest   [sha256.Size]byte
	identity auth.Identity
}

// Authenticator checks bearer tokens against the configured keys.
type Authenticator struct {
	entries []entry
}

// New hashes keys; the plaintext is not retained.
func New(keys []Key) *Authenticator {
	a := &Authenticator{entries: make([]entry, 0, len(keys))}
	for _, k := range keys {
		a.entries = append(a.entries, entry{
			digest:   sha256.Sum256([]byte(k.Key)),
			identity: auth.Identity{Subject: k.Subject, Tier: k.Tier, Tenant: k.Tenant},
		})
	}
	return a
}

// Authenticate abstains without a bearer token and votes No for unknown
// keys. Every entry is compared so timing does not reveal a match position.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Deny(auth.ErrUnauthenticated)
	}

	digest := sha256.Sum256([]byte(token))
	match := -1
	for i := range a.entries {
		if subtle.ConstantTimeCompare(digest[:], a.entries[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Deny(errUnknownKey)
	}

	id := a.entries[match].identity
	return auth.Allow(&id)
}
